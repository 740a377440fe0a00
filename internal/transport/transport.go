// Package transport provides the RPC boundary the DHT consumes: send a
// message to an address and receive a response or a timeout. The engine
// never touches sockets directly.
package transport

import (
	"context"

	"github.com/NekoTensor/dhtshare/internal/protocol"
)

// Handler processes an inbound request and returns the reply, or nil when no
// reply should be sent. Implementations must be safe for concurrent calls.
type Handler interface {
	HandleMessage(msg *protocol.Message) *protocol.Message
}

// Transport sends request messages and delivers correlated responses.
type Transport interface {
	// Send transmits msg to addr and blocks until a response correlated by
	// RequestID arrives, the per-RPC timeout elapses (kademlia.ErrTimeout),
	// or ctx is cancelled. A RequestID is minted when msg carries none.
	Send(ctx context.Context, addr string, msg *protocol.Message) (*protocol.Message, error)
	// Start begins serving inbound messages through h.
	Start(h Handler) error
	// Addr returns the bound listen address.
	Addr() string
	// Close stops the transport. In-flight Sends fail with ErrTimeout.
	Close() error
}
