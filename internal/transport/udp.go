package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
)

// UDPTransport is the production transport: one datagram per message,
// responses matched to requests by RequestID. Responses that arrive after
// their waiter gave up are dropped.
type UDPTransport struct {
	conn    *net.UDPConn
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan *protocol.Message
	handler Handler
	closed  bool

	wg sync.WaitGroup
}

// NewUDPTransport binds a socket on listenAddr. Binding happens here, not in
// Start, so the final address (including an ephemeral port from ":0") is
// known before any message is served.
func NewUDPTransport(listenAddr string, timeout time.Duration, logger *zap.Logger) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	return &UDPTransport{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan *protocol.Message),
	}, nil
}

// Start launches the read loop serving inbound messages through h.
func (t *UDPTransport) Start(h Handler) error {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()

	t.logger.Info("UDP transport listening", zap.String("addr", t.Addr()))

	t.wg.Add(1)
	go t.readLoop()
	return nil
}

// Addr returns the bound address.
func (t *UDPTransport) Addr() string {
	return t.conn.LocalAddr().String()
}

// Close stops the read loop and fails pending sends.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, addr string, msg *protocol.Message) (*protocol.Message, error) {
	if msg.RequestID == "" {
		msg.RequestID = protocol.NewRequestID()
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	respCh := make(chan *protocol.Message, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("send %s to %s: transport closed: %w", msg.Kind, addr, kademlia.ErrTimeout)
	}
	t.pending[msg.RequestID] = respCh
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, msg.RequestID)
		t.mu.Unlock()
	}()

	if _, err := t.conn.WriteToUDP(data, udpAddr); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", msg.Kind, addr, err)
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("send %s to %s: %w", msg.Kind, addr, kademlia.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, protocol.MaxMessageSize)
	for {
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("UDP read failed", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed senders are dropped, not observed (and not blacklisted).
			t.logger.Warn("dropping malformed datagram",
				zap.String("from", remote.String()),
				zap.Error(err),
			)
			continue
		}

		if msg.Kind.IsResponse() {
			t.mu.Lock()
			ch, ok := t.pending[msg.RequestID]
			t.mu.Unlock()
			if ok {
				select {
				case ch <- msg:
				default:
				}
			}
			continue
		}

		t.wg.Add(1)
		go func(req *protocol.Message, remote *net.UDPAddr) {
			defer t.wg.Done()
			reply := t.handler.HandleMessage(req)
			if reply == nil {
				return
			}
			out, err := protocol.Encode(reply)
			if err != nil {
				t.logger.Warn("encoding reply failed", zap.Error(err))
				return
			}
			if _, err := t.conn.WriteToUDP(out, remote); err != nil {
				t.logger.Warn("sending reply failed",
					zap.String("to", remote.String()),
					zap.Error(err),
				)
			}
		}(msg, remote)
	}
}
