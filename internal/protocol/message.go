// Package protocol defines the DHT wire messages and their msgpack codec.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
)

// MaxMessageSize bounds a single encoded message. Oversize payloads are
// rejected on both encode and decode.
const MaxMessageSize = 64 << 10

// Kind identifies a message type.
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindPong
	KindStore
	KindStoreOK
	KindFindNode
	KindFoundNodes
	KindFindValue
	KindFoundValue
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindStore:
		return "STORE"
	case KindStoreOK:
		return "STORE_OK"
	case KindFindNode:
		return "FIND_NODE"
	case KindFoundNodes:
		return "FOUND_NODES"
	case KindFindValue:
		return "FIND_VALUE"
	case KindFoundValue:
		return "FOUND_VALUE"
	default:
		return "UNKNOWN"
	}
}

// IsResponse reports whether the kind answers a request, which routes the
// message to the transport's correlation map instead of the handler.
func (k Kind) IsResponse() bool {
	switch k {
	case KindPong, KindStoreOK, KindFoundNodes, KindFoundValue:
		return true
	}
	return false
}

// PeerInfo is the wire form of a routing contact.
type PeerInfo struct {
	ID      kademlia.NodeID `msgpack:"id"`
	Address string          `msgpack:"addr"`
}

// Message is the envelope every RPC exchange uses. Key/Value/Nodes are
// populated per kind; unused fields stay empty on the wire.
type Message struct {
	RequestID  string          `msgpack:"rid"`
	SenderID   kademlia.NodeID `msgpack:"sid"`
	SenderAddr string          `msgpack:"saddr"`
	Kind       Kind            `msgpack:"kind"`
	Key        kademlia.NodeID `msgpack:"key,omitempty"`
	Value      []byte          `msgpack:"value,omitempty"`
	Nodes      []PeerInfo      `msgpack:"nodes,omitempty"`
}

// NewRequestID mints a random correlation identifier.
func NewRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Sender returns the envelope's sender as a routing contact.
func (m *Message) Sender() kademlia.Contact {
	return kademlia.NewContact(m.SenderID, m.SenderAddr)
}

// Contacts converts the Nodes list to routing contacts.
func (m *Message) Contacts() []kademlia.Contact {
	out := make([]kademlia.Contact, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		out = append(out, kademlia.NewContact(n.ID, n.Address))
	}
	return out
}

// FromContacts converts routing contacts to their wire form.
func FromContacts(contacts []kademlia.Contact) []PeerInfo {
	out := make([]PeerInfo, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, PeerInfo{ID: c.ID, Address: c.Address})
	}
	return out
}

// Encode serializes a message, enforcing MaxMessageSize.
func Encode(m *Message) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("encode %s: %d bytes exceeds limit: %w",
			m.Kind, len(data), kademlia.ErrMalformedMessage)
	}
	return data, nil
}

// Decode parses a message, classifying any failure as a protocol error.
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 || len(data) > MaxMessageSize {
		return nil, fmt.Errorf("decode: %d bytes: %w", len(data), kademlia.ErrMalformedMessage)
	}
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, kademlia.ErrMalformedMessage)
	}
	if m.Kind < KindPing || m.Kind > KindFoundValue {
		return nil, fmt.Errorf("decode: kind %d: %w", m.Kind, kademlia.ErrMalformedMessage)
	}
	if m.RequestID == "" || m.SenderID.IsZero() {
		return nil, fmt.Errorf("decode: missing envelope fields: %w", kademlia.ErrMalformedMessage)
	}
	return &m, nil
}

// Response builds a reply envelope correlated to the request.
func (m *Message) Response(kind Kind, self kademlia.Contact) *Message {
	return &Message{
		RequestID:  m.RequestID,
		SenderID:   self.ID,
		SenderAddr: self.Address,
		Kind:       kind,
	}
}
