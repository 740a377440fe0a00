package kademlia

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBucketSize = 4

func newTestTable(t *testing.T) *RoutingTable {
	t.Helper()
	self := NewContact(NewRandomNodeID(), "127.0.0.1:9000")
	return NewRoutingTable(self, testBucketSize, 5, zap.NewNop())
}

// idInBucket builds an ID sharing exactly prefix bits with self, with a
// unique suffix so every call yields a distinct ID.
func idInBucket(self NodeID, prefix int, suffix byte) NodeID {
	id := self
	byteIdx, bitIdx := prefix/8, prefix%8
	id[byteIdx] ^= 1 << (7 - bitIdx)
	id[IDLength-1] ^= suffix
	return id
}

func TestObserveNeverStoresSelf(t *testing.T) {
	rt := newTestTable(t)
	rt.Observe(rt.Self())
	assert.Equal(t, 0, rt.Size())
}

func TestObserveIdempotent(t *testing.T) {
	rt := newTestTable(t)
	c := NewContact(idInBucket(rt.Self().ID, 10, 1), "127.0.0.1:9001")

	rt.Observe(c)
	rt.Observe(c)
	rt.Observe(c)

	assert.Equal(t, 1, rt.Size(), "re-observing a known peer must not duplicate it")
}

func TestBucketNeverExceedsCapacity(t *testing.T) {
	rt := newTestTable(t)
	// Probe always says alive, so the bucket keeps its original entries.
	rt.SetPingFunc(func(Contact) bool { return true })

	for i := 0; i < testBucketSize*3; i++ {
		c := NewContact(idInBucket(rt.Self().ID, 3, byte(i+1)), fmt.Sprintf("127.0.0.1:%d", 9100+i))
		rt.Observe(c)
	}
	assert.Equal(t, testBucketSize, rt.Size())
}

func TestFullBucketEvictsDeadLRU(t *testing.T) {
	rt := newTestTable(t)
	var first Contact
	for i := 0; i < testBucketSize; i++ {
		c := NewContact(idInBucket(rt.Self().ID, 3, byte(i+1)), fmt.Sprintf("127.0.0.1:%d", 9100+i))
		if i == 0 {
			first = c
		}
		rt.Observe(c)
	}

	// The LRU entry (first observed) does not answer its probe, so the
	// newcomer replaces it.
	var probed []NodeID
	rt.SetPingFunc(func(c Contact) bool {
		probed = append(probed, c.ID)
		return false
	})
	newcomer := NewContact(idInBucket(rt.Self().ID, 3, 0xEE), "127.0.0.1:9999")
	rt.Observe(newcomer)

	require.Len(t, probed, 1)
	assert.Equal(t, first.ID, probed[0], "the least-recently-seen entry is probed")

	found := false
	for _, c := range rt.Closest(newcomer.ID, testBucketSize) {
		assert.NotEqual(t, first.ID, c.ID, "dead LRU entry must be gone")
		if c.ID == newcomer.ID {
			found = true
		}
	}
	assert.True(t, found, "newcomer must take the freed slot")
}

func TestFullBucketKeepsLiveLRU(t *testing.T) {
	rt := newTestTable(t)
	for i := 0; i < testBucketSize; i++ {
		c := NewContact(idInBucket(rt.Self().ID, 3, byte(i+1)), fmt.Sprintf("127.0.0.1:%d", 9100+i))
		rt.Observe(c)
	}

	rt.SetPingFunc(func(Contact) bool { return true })
	newcomer := NewContact(idInBucket(rt.Self().ID, 3, 0xEE), "127.0.0.1:9999")
	rt.Observe(newcomer)

	assert.Equal(t, testBucketSize, rt.Size())
	for _, c := range rt.Closest(newcomer.ID, testBucketSize) {
		assert.NotEqual(t, newcomer.ID, c.ID, "newcomer must not displace a live entry")
	}
}

func TestClosestOrderedAndBounded(t *testing.T) {
	rt := newTestTable(t)
	for i := 0; i < 12; i++ {
		c := NewContact(NewRandomNodeID(), fmt.Sprintf("127.0.0.1:%d", 9200+i))
		rt.Observe(c)
	}

	target := NewRandomNodeID()
	got := rt.Closest(target, 8)
	require.LessOrEqual(t, len(got), 8)
	for i := 1; i < len(got); i++ {
		prev := got[i-1].ID.Distance(target)
		cur := got[i].ID.Distance(target)
		assert.False(t, cur.Less(prev), "closest() must be ascending by distance")
	}
}

func TestRemove(t *testing.T) {
	rt := newTestTable(t)
	c := NewContact(NewRandomNodeID(), "127.0.0.1:9300")
	rt.Observe(c)
	require.Equal(t, 1, rt.Size())

	rt.Remove(c.ID)
	assert.Equal(t, 0, rt.Size())
}

func TestRepeatedFailuresEvict(t *testing.T) {
	rt := newTestTable(t)
	c := NewContact(NewRandomNodeID(), "127.0.0.1:9301")
	rt.Observe(c)

	for i := 0; i < 4; i++ {
		rt.RecordFailure(c.ID)
	}
	require.Equal(t, 1, rt.Size(), "four failures must not evict yet")

	rt.RecordFailure(c.ID) // fifth consecutive failure
	assert.Equal(t, 0, rt.Size())
	assert.Empty(t, rt.Closest(c.ID, testBucketSize))
}

func TestObserveResetsFailureCount(t *testing.T) {
	rt := newTestTable(t)
	c := NewContact(NewRandomNodeID(), "127.0.0.1:9302")
	rt.Observe(c)

	for i := 0; i < 4; i++ {
		rt.RecordFailure(c.ID)
	}
	rt.Observe(c) // successful contact clears the streak

	for i := 0; i < 4; i++ {
		rt.RecordFailure(c.ID)
	}
	assert.Equal(t, 1, rt.Size(), "failure streak must restart after a successful contact")
}

func TestRandomIDInBucket(t *testing.T) {
	rt := newTestTable(t)
	for _, idx := range []int{0, 7, 63, IDBits - 1} {
		id := rt.RandomIDInBucket(idx)
		assert.Equal(t, idx, rt.Self().ID.PrefixLen(id), "bucket %d", idx)
	}
}
