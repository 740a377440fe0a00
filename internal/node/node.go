// Package node wires the DHT engine together: routing table, record store,
// transport, the RPC responder, and the maintenance schedulers. It exposes
// the node-facing API consumed by external layers: Bootstrap, Store, Lookup.
package node

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/config"
	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
	"github.com/NekoTensor/dhtshare/internal/storage"
	"github.com/NekoTensor/dhtshare/internal/transport"
)

// Node is a single DHT participant.
type Node struct {
	cfg       *config.Config
	table     *kademlia.RoutingTable
	records   storage.RecordStore
	transport transport.Transport
	logger    *zap.Logger

	// self is immutable after New: the transport is bound at construction,
	// so the advertised address is final before any message is served.
	self kademlia.Contact

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unstarted Node. The node identity comes from cfg.Node.ID
// when set, otherwise a fresh random ID is minted.
func New(cfg *config.Config, records storage.RecordStore, tr transport.Transport, logger *zap.Logger) (*Node, error) {
	var id kademlia.NodeID
	if cfg.Node.ID != "" {
		parsed, err := kademlia.ParseNodeID(cfg.Node.ID)
		if err != nil {
			return nil, fmt.Errorf("node id from config: %w", err)
		}
		id = parsed
	} else {
		id = kademlia.NewRandomNodeID()
	}

	self := kademlia.NewContact(id, tr.Addr())
	n := &Node{
		cfg:       cfg,
		records:   records,
		transport: tr,
		logger:    logger,
		self:      self,
	}
	n.table = kademlia.NewRoutingTable(self, cfg.Kademlia.BucketSize, cfg.Kademlia.FailureThreshold, logger)
	return n, nil
}

// Start opens the record store, begins serving inbound messages, and
// launches the maintenance schedulers. The liveness probe is wired before
// serving starts so full buckets behave correctly from the first inbound
// message.
func (n *Node) Start() error {
	if err := n.records.Init(); err != nil {
		return fmt.Errorf("record store init: %w", err)
	}
	n.table.SetPingFunc(n.probe)
	if err := n.transport.Start(n); err != nil {
		return fmt.Errorf("transport start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.startSchedulers(ctx)

	n.logger.Info("Node started",
		zap.String("id", n.self.ID.String()),
		zap.String("addr", n.self.Address),
	)
	return nil
}

// Close stops schedulers, the transport, and the record store.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	err := n.transport.Close()
	n.wg.Wait()
	if cerr := n.records.Close(); err == nil {
		err = cerr
	}
	return err
}

// Self returns this node's contact with the bound address.
func (n *Node) Self() kademlia.Contact {
	return n.self
}

// ID returns this node's identifier.
func (n *Node) ID() kademlia.NodeID {
	return n.self.ID
}

// RoutingTable exposes the table for the REST surface and tests.
func (n *Node) RoutingTable() *kademlia.RoutingTable {
	return n.table
}

// Records exposes the record store for the REST surface and tests.
func (n *Node) Records() storage.RecordStore {
	return n.records
}

// probe is the liveness check used by the routing table's eviction policy
// and by Bootstrap. It runs outside all table locks.
func (n *Node) probe(c kademlia.Contact) bool {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Kademlia.RPCTimeout)
	defer cancel()
	resp, err := n.send(ctx, c.Address, &protocol.Message{Kind: protocol.KindPing})
	return err == nil && resp.Kind == protocol.KindPong
}

// send wraps transport.Send, stamping the envelope with this node's identity.
func (n *Node) send(ctx context.Context, addr string, msg *protocol.Message) (*protocol.Message, error) {
	self := n.Self()
	msg.SenderID = self.ID
	msg.SenderAddr = self.Address
	return n.transport.Send(ctx, addr, msg)
}
