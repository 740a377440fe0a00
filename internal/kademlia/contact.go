package kademlia

import (
	"sort"
	"time"
)

// Contact is the routing table's view of a remote peer.
type Contact struct {
	ID       NodeID
	Address  string // host:port of the peer's DHT listener
	LastSeen time.Time
	// Failures counts consecutive failed liveness probes / RPC timeouts.
	// Reset on every successful contact.
	Failures int
}

// NewContact builds a Contact stamped with the current time.
func NewContact(id NodeID, address string) Contact {
	return Contact{ID: id, Address: address, LastSeen: time.Now()}
}

// candidates is a distance-sorted working set of contacts used by Closest
// and by the lookup shortlist. Sorting is stable so that equal distances
// keep insertion order (first-seen wins).
type candidates struct {
	target   NodeID
	contacts []Contact
}

func newCandidates(target NodeID) *candidates {
	return &candidates{target: target}
}

// appendUnique adds contacts not already present, keyed by NodeID.
func (c *candidates) appendUnique(in []Contact) {
	for _, nc := range in {
		known := false
		for _, existing := range c.contacts {
			if existing.ID == nc.ID {
				known = true
				break
			}
		}
		if !known {
			c.contacts = append(c.contacts, nc)
		}
	}
}

func (c *candidates) sortByDistance() {
	sort.SliceStable(c.contacts, func(i, j int) bool {
		di := c.contacts[i].ID.Distance(c.target)
		dj := c.contacts[j].ID.Distance(c.target)
		return di.Less(dj)
	})
}

// closest returns up to n contacts, sorted ascending by distance to target.
func (c *candidates) closest(n int) []Contact {
	c.sortByDistance()
	if n > len(c.contacts) {
		n = len(c.contacts)
	}
	out := make([]Contact, n)
	copy(out, c.contacts[:n])
	return out
}

func (c *candidates) len() int {
	return len(c.contacts)
}
