package kademlia

import (
	"container/list"
	"time"
)

// replacementCap bounds the per-bucket cache of contacts that arrived while
// the bucket was full with live entries.
const replacementCap = 32

// bucket is a least-recently-seen ordered list of contacts covering one
// shared-prefix range. Front = most recently seen, back = least.
// Not safe for concurrent use; the routing table holds the lock.
type bucket struct {
	entries *list.List
	// replacements holds newcomers rejected from a full bucket whose LRU
	// entry answered its liveness probe. Promoted when a slot opens.
	replacements []Contact
	lastChanged  time.Time
}

func newBucket() *bucket {
	return &bucket{entries: list.New(), lastChanged: time.Now()}
}

func (b *bucket) len() int {
	return b.entries.Len()
}

// find returns the list element holding id, or nil.
func (b *bucket) find(id NodeID) *list.Element {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Contact).ID == id {
			return e
		}
	}
	return nil
}

// touch moves an existing element to the front with a fresh timestamp and a
// cleared failure count.
func (b *bucket) touch(e *list.Element, address string) {
	c := e.Value.(Contact)
	c.LastSeen = time.Now()
	c.Failures = 0
	if address != "" {
		c.Address = address
	}
	e.Value = c
	b.entries.MoveToFront(e)
	b.lastChanged = time.Now()
}

// insert pushes a contact to the front. Caller checks capacity.
func (b *bucket) insert(c Contact) {
	c.LastSeen = time.Now()
	b.entries.PushFront(c)
	b.lastChanged = time.Now()
}

// leastRecent returns the least-recently-seen contact, ok=false when empty.
func (b *bucket) leastRecent() (Contact, bool) {
	e := b.entries.Back()
	if e == nil {
		return Contact{}, false
	}
	return e.Value.(Contact), true
}

// remove deletes the contact with the given ID and promotes the most recent
// replacement into the freed slot, if any.
func (b *bucket) remove(id NodeID) bool {
	e := b.find(id)
	if e == nil {
		return false
	}
	b.entries.Remove(e)
	b.lastChanged = time.Now()
	if rc, ok := b.popReplacement(); ok {
		b.insert(rc)
	}
	return true
}

// contacts appends all entries to dst and returns it.
func (b *bucket) contacts(dst []Contact) []Contact {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		dst = append(dst, e.Value.(Contact))
	}
	return dst
}

// addReplacement caches a newcomer, deduplicated, dropping the oldest when full.
func (b *bucket) addReplacement(c Contact) {
	for i := range b.replacements {
		if b.replacements[i].ID == c.ID {
			return
		}
	}
	if len(b.replacements) >= replacementCap {
		copy(b.replacements, b.replacements[1:])
		b.replacements = b.replacements[:replacementCap-1]
	}
	b.replacements = append(b.replacements, c)
}

func (b *bucket) popReplacement() (Contact, bool) {
	n := len(b.replacements)
	if n == 0 {
		return Contact{}, false
	}
	c := b.replacements[n-1]
	b.replacements = b.replacements[:n-1]
	return c, true
}
