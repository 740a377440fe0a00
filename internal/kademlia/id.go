// Package kademlia implements the DHT core: node identity, the XOR-metric
// routing table, and the iterative lookup primitives built on top of it.
package kademlia

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/sha3"
)

// IDLength is the number of bytes in a NodeID (160-bit key space).
const IDLength = 20

// IDBits is the key space width in bits, and the number of routing buckets.
const IDBits = IDLength * 8

// NodeID places a node (or a content key) in the 160-bit XOR key space.
// Immutable once assigned.
type NodeID [IDLength]byte

// NewRandomNodeID returns a cryptographically random NodeID.
func NewRandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// there is no useful recovery for a node that cannot mint an identity.
		panic(fmt.Sprintf("kademlia: rand.Read: %v", err))
	}
	return id
}

// KeyID hashes arbitrary application key material into the NodeID key space.
func KeyID(key []byte) NodeID {
	sum := sha3.Sum256(key)
	var id NodeID
	copy(id[:], sum[:IDLength])
	return id
}

// ParseNodeID decodes a 40-char hex string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse node id: %w", err)
	}
	if len(raw) != IDLength {
		return id, fmt.Errorf("parse node id: got %d bytes, want %d", len(raw), IDLength)
	}
	copy(id[:], raw)
	return id, nil
}

// Distance returns the XOR distance between two IDs. The result is itself a
// NodeID, ordered as an unsigned big-endian integer via Less.
func (id NodeID) Distance(other NodeID) NodeID {
	var d NodeID
	for i := 0; i < IDLength; i++ {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// Less orders IDs as unsigned big-endian integers.
func (id NodeID) Less(other NodeID) bool {
	for i := 0; i < IDLength; i++ {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// PrefixLen returns the number of leading bits shared with other.
// Identical IDs share all IDBits bits.
func (id NodeID) PrefixLen(other NodeID) int {
	for i := 0; i < IDLength; i++ {
		x := id[i] ^ other[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return IDBits
}

// IsZero reports whether the ID is all zero bytes.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// String hex-encodes the ID.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}
