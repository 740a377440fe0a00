package kademlia

import (
	"crypto/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PingFunc probes a contact for liveness. It must run without holding any
// table lock and return within the node's RPC timeout.
type PingFunc func(Contact) bool

// RoutingTable holds up to K contacts per shared-prefix bucket, ordered by
// recency. Self is never stored. All mutations are short critical sections;
// the liveness probe used by the eviction policy runs outside the lock.
type RoutingTable struct {
	self       Contact
	bucketSize int
	// failureLimit is the consecutive-failure count at which RecordFailure
	// evicts a contact.
	failureLimit int

	mu      sync.RWMutex
	buckets [IDBits]*bucket

	ping   PingFunc
	logger *zap.Logger
}

// NewRoutingTable creates a table for the given local contact.
func NewRoutingTable(self Contact, bucketSize, failureLimit int, logger *zap.Logger) *RoutingTable {
	rt := &RoutingTable{
		self:         self,
		bucketSize:   bucketSize,
		failureLimit: failureLimit,
		logger:       logger,
	}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket()
	}
	return rt
}

// SetPingFunc wires the liveness probe used when a full bucket must decide
// between its least-recently-seen entry and a newcomer.
func (rt *RoutingTable) SetPingFunc(ping PingFunc) {
	rt.mu.Lock()
	rt.ping = ping
	rt.mu.Unlock()
}

// Self returns the local contact.
func (rt *RoutingTable) Self() Contact {
	return rt.self
}

// bucketIndex maps an ID to its bucket by shared-prefix length with self.
func (rt *RoutingTable) bucketIndex(id NodeID) int {
	prefix := rt.self.ID.PrefixLen(id)
	if prefix >= IDBits {
		// Only self shares all bits; callers filter self out beforehand.
		return IDBits - 1
	}
	return prefix
}

// Observe inserts or refreshes a peer. Observing self is a no-op. When the
// target bucket is full, its least-recently-seen entry is probed outside the
// lock and replaced only if the probe fails; a live LRU entry keeps its slot
// and the newcomer lands in the replacement cache.
func (rt *RoutingTable) Observe(c Contact) {
	if c.ID.IsZero() || c.ID == rt.self.ID {
		return
	}
	idx := rt.bucketIndex(c.ID)

	// Phase 1: refresh or insert under lock when there is room.
	rt.mu.Lock()
	b := rt.buckets[idx]
	if e := b.find(c.ID); e != nil {
		b.touch(e, c.Address)
		rt.mu.Unlock()
		return
	}
	if b.len() < rt.bucketSize {
		b.insert(c)
		rt.mu.Unlock()
		return
	}
	lru, _ := b.leastRecent()
	ping := rt.ping
	rt.mu.Unlock()

	// Phase 2: probe the LRU entry without blocking the table.
	alive := false
	if ping != nil {
		alive = ping(lru)
	}

	// Phase 3: re-acquire and resolve. The bucket may have changed while the
	// probe was in flight, so everything is re-checked.
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b = rt.buckets[idx]
	if e := b.find(c.ID); e != nil {
		b.touch(e, c.Address)
		return
	}
	if alive {
		if e := b.find(lru.ID); e != nil {
			b.touch(e, "")
		}
		b.addReplacement(c)
		return
	}
	if e := b.find(lru.ID); e != nil {
		b.entries.Remove(e)
		rt.logger.Debug("evicted unresponsive contact",
			zap.String("evicted", lru.ID.String()),
			zap.String("replacement", c.ID.String()),
		)
	}
	if b.len() < rt.bucketSize {
		b.insert(c)
	} else {
		b.addReplacement(c)
	}
}

// Closest returns up to n known contacts ordered by ascending XOR distance
// to key, scanning outward from the key's bucket.
func (rt *RoutingTable) Closest(key NodeID, n int) []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	idx := rt.bucketIndex(key)
	cand := newCandidates(key)
	cand.appendUnique(rt.buckets[idx].contacts(nil))
	for i := 1; (idx-i >= 0 || idx+i < IDBits) && cand.len() < n; i++ {
		if idx-i >= 0 {
			cand.appendUnique(rt.buckets[idx-i].contacts(nil))
		}
		if idx+i < IDBits {
			cand.appendUnique(rt.buckets[idx+i].contacts(nil))
		}
	}
	return cand.closest(n)
}

// Remove evicts a peer on confirmed failure.
func (rt *RoutingTable) Remove(id NodeID) {
	if id == rt.self.ID {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.buckets[rt.bucketIndex(id)].remove(id) {
		rt.logger.Debug("removed contact", zap.String("id", id.String()))
	}
}

// RecordFailure bumps a contact's consecutive-failure count and evicts it
// once the count reaches the configured limit.
func (rt *RoutingTable) RecordFailure(id NodeID) {
	if id == rt.self.ID {
		return
	}
	idx := rt.bucketIndex(id)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[idx]
	e := b.find(id)
	if e == nil {
		return
	}
	c := e.Value.(Contact)
	c.Failures++
	if c.Failures >= rt.failureLimit {
		b.entries.Remove(e)
		if rc, ok := b.popReplacement(); ok {
			b.insert(rc)
		}
		rt.logger.Debug("evicted contact after repeated failures",
			zap.String("id", id.String()),
			zap.Int("failures", c.Failures),
		)
		return
	}
	e.Value = c
}

// Size returns the total number of known contacts.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	total := 0
	for _, b := range rt.buckets {
		total += b.len()
	}
	return total
}

// StaleBuckets returns the indexes of buckets untouched since the cutoff.
// Used by the refresh scheduler.
func (rt *RoutingTable) StaleBuckets(cutoff time.Time) []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var idxs []int
	for i, b := range rt.buckets {
		if b.len() > 0 && b.lastChanged.Before(cutoff) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// RandomIDInBucket returns a random ID whose distance from self falls in the
// given bucket, i.e. it shares exactly idx prefix bits with self.
func (rt *RoutingTable) RandomIDInBucket(idx int) NodeID {
	var id NodeID
	// crypto/rand never fails on a healthy system; a zero suffix is acceptable.
	_, _ = rand.Read(id[:])

	// Copy the shared prefix from self, then force the first differing bit.
	byteIdx, bitIdx := idx/8, idx%8
	copy(id[:byteIdx], rt.self.ID[:byteIdx])
	mask := byte(0xFF << (8 - bitIdx))
	id[byteIdx] = (rt.self.ID[byteIdx] & mask) | (^rt.self.ID[byteIdx] & (1 << (7 - bitIdx))) | (id[byteIdx] &^ mask &^ (1 << (7 - bitIdx)))
	return id
}
