package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
	"github.com/NekoTensor/dhtshare/internal/storage"
)

// HandleMessage is the inbound RPC responder. Every well-formed message is a
// routing signal: the sender is observed before the request is served.
func (n *Node) HandleMessage(msg *protocol.Message) *protocol.Message {
	n.table.Observe(msg.Sender())

	switch msg.Kind {
	case protocol.KindPing:
		return msg.Response(protocol.KindPong, n.Self())

	case protocol.KindStore:
		return n.handleStore(msg)

	case protocol.KindFindNode:
		reply := msg.Response(protocol.KindFoundNodes, n.Self())
		reply.Nodes = protocol.FromContacts(n.table.Closest(msg.Key, n.cfg.Kademlia.BucketSize))
		return reply

	case protocol.KindFindValue:
		return n.handleFindValue(msg)

	default:
		// Requests only reach here; responses are consumed by the transport.
		n.logger.Warn("unexpected message kind",
			zap.String("kind", msg.Kind.String()),
			zap.String("from", msg.SenderAddr),
		)
		return nil
	}
}

func (n *Node) handleStore(msg *protocol.Message) *protocol.Message {
	now := time.Now()
	rec := storage.Record{
		Key:           msg.Key,
		Value:         msg.Value,
		StoredAt:      now,
		RepublishedAt: now,
		ExpiresAt:     now.Add(n.cfg.Record.TTL),
	}
	if err := n.records.Put(rec); err != nil {
		n.logger.Warn("storing replica failed",
			zap.String("key", msg.Key.String()),
			zap.Error(err),
		)
		return nil // no ack; the sender counts this as a failed replica
	}
	n.logger.Debug("stored replica",
		zap.String("key", msg.Key.String()),
		zap.Int("bytes", len(msg.Value)),
	)
	return msg.Response(protocol.KindStoreOK, n.Self())
}

func (n *Node) handleFindValue(msg *protocol.Message) *protocol.Message {
	if rec, ok, err := n.records.Get(msg.Key); err == nil && ok {
		reply := msg.Response(protocol.KindFoundValue, n.Self())
		reply.Key = rec.Key
		reply.Value = rec.Value
		return reply
	}
	// Value absent locally: forward the closest candidates instead.
	reply := msg.Response(protocol.KindFoundNodes, n.Self())
	reply.Nodes = protocol.FromContacts(n.table.Closest(msg.Key, n.cfg.Kademlia.BucketSize))
	return reply
}

// contactsExcludingSelf filters this node out of a learned contact list so
// the lookup shortlist never queries the local node over the network.
func (n *Node) contactsExcludingSelf(contacts []kademlia.Contact) []kademlia.Contact {
	out := contacts[:0:0]
	for _, c := range contacts {
		if c.ID == n.self.ID {
			continue
		}
		out = append(out, c)
	}
	return out
}
