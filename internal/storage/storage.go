// Package storage holds the records this node is responsible for. The
// default backend is in-memory; a Pebble backend can be selected for nodes
// that want records to survive restarts.
package storage

import (
	"time"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
)

// Record is a key-value pair held by the local node.
type Record struct {
	Key           kademlia.NodeID `msgpack:"key"`
	Value         []byte          `msgpack:"value"`
	StoredAt      time.Time       `msgpack:"stored_at"`
	RepublishedAt time.Time       `msgpack:"republished_at"`
	ExpiresAt     time.Time       `msgpack:"expires_at"`
}

// Expired reports whether the record's TTL has passed at the given instant.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// RecordStore is the interface for the node's record storage.
type RecordStore interface {
	// Init opens/creates the underlying store.
	Init() error
	// Close flushes and closes the store.
	Close() error
	// Put inserts or overwrites a record.
	Put(rec Record) error
	// Get retrieves an unexpired record. ok=false when absent or expired.
	Get(key kademlia.NodeID) (Record, bool, error)
	// Delete removes a record.
	Delete(key kademlia.NodeID) error
	// ExpireRecords drops all expired records and returns how many.
	ExpireRecords() (int, error)
	// ForRepublish returns unexpired records whose last republish is older
	// than the cutoff.
	ForRepublish(cutoff time.Time) ([]Record, error)
	// MarkRepublished stamps a record's republish time.
	MarkRepublished(key kademlia.NodeID, at time.Time) error
	// Len returns the number of stored records, including expired ones not
	// yet swept.
	Len() int
}
