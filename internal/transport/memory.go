package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
)

// MemoryNetwork is an in-process message fabric for tests and simulations.
// Every registered MemoryTransport is addressable by name; sending to an
// unknown or offline address behaves like a timeout, which is how churn and
// partitions are simulated.
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*MemoryTransport
}

// NewMemoryNetwork creates an empty fabric.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryTransport)}
}

// Transport registers and returns a transport reachable at addr.
func (n *MemoryNetwork) Transport(addr string) *MemoryTransport {
	t := &MemoryTransport{network: n, addr: addr}
	n.mu.Lock()
	n.nodes[addr] = t
	n.mu.Unlock()
	return t
}

// SetOffline toggles reachability of addr without deregistering it.
func (n *MemoryNetwork) SetOffline(addr string, offline bool) {
	n.mu.RLock()
	t := n.nodes[addr]
	n.mu.RUnlock()
	if t != nil {
		t.mu.Lock()
		t.offline = offline
		t.mu.Unlock()
	}
}

func (n *MemoryNetwork) lookup(addr string) *MemoryTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[addr]
}

// MemoryTransport implements Transport over a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	addr    string

	mu      sync.Mutex
	handler Handler
	offline bool
	closed  bool
}

// Start implements Transport.
func (t *MemoryTransport) Start(h Handler) error {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
	return nil
}

// Addr implements Transport.
func (t *MemoryTransport) Addr() string { return t.addr }

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Send delivers the request synchronously to the destination handler. The
// message round-trips through the real codec so wire behavior (size bounds,
// field fidelity) is exercised even in memory.
func (t *MemoryTransport) Send(ctx context.Context, addr string, msg *protocol.Message) (*protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.RequestID == "" {
		msg.RequestID = protocol.NewRequestID()
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}

	dest := t.network.lookup(addr)
	if dest == nil {
		return nil, fmt.Errorf("send %s to %s: %w", msg.Kind, addr, kademlia.ErrTimeout)
	}
	dest.mu.Lock()
	handler, reachable := dest.handler, !dest.offline && !dest.closed
	dest.mu.Unlock()
	if !reachable || handler == nil {
		return nil, fmt.Errorf("send %s to %s: %w", msg.Kind, addr, kademlia.ErrTimeout)
	}

	req, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	reply := handler.HandleMessage(req)
	if reply == nil {
		return nil, fmt.Errorf("send %s to %s: no reply: %w", msg.Kind, addr, kademlia.ErrTimeout)
	}
	return reply, nil
}
