package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
	"github.com/NekoTensor/dhtshare/internal/storage"
)

// Store publishes a key-value pair to the network. The key is hashed into
// the node ID space; the record is replicated to the replication-factor
// closest responsive peers. The origin node always retains a local copy
// regardless of its distance ranking, so the value stays retrievable even
// if every replica is lost.
//
// Retry policy: when none of the top-k candidates acknowledge, one more
// attempt runs against the next-closest k candidates from the same lookup
// shortlist. After that the store fails.
func (n *Node) Store(ctx context.Context, key, value []byte) error {
	keyID := kademlia.KeyID(key)
	now := time.Now()
	rec := storage.Record{
		Key:           keyID,
		Value:         value,
		StoredAt:      now,
		RepublishedAt: now,
		ExpiresAt:     now.Add(n.cfg.Record.TTL),
	}
	if err := n.records.Put(rec); err != nil {
		return fmt.Errorf("store local copy: %w", err)
	}

	if n.table.Size() == 0 {
		// Single-node network: the local copy is the only possible replica.
		n.logger.Debug("stored without replicas, no peers known",
			zap.String("key", keyID.String()))
		return nil
	}

	res, err := n.iterativeLookup(ctx, keyID, false)
	if err != nil {
		if errors.Is(err, kademlia.ErrNetworkUnreachable) {
			return fmt.Errorf("store %s: no peer reachable: %w", keyID, kademlia.ErrStoreFailed)
		}
		return err
	}

	acks, err := n.replicate(ctx, rec, res.Closest)
	if err != nil {
		return err
	}
	n.logger.Info("Stored record",
		zap.String("key", keyID.String()),
		zap.Int("replicas", acks),
	)
	return nil
}

// replicate fans STORE out to candidate peers in batches of the replication
// factor, retrying once with the next-closest batch when nobody acked.
func (n *Node) replicate(ctx context.Context, rec storage.Record, candidates []kademlia.Contact) (int, error) {
	rf := n.cfg.Kademlia.ReplicationFactor

	attempt := 0
	totalAcks := 0
	err := retry.Do(func() error {
		lo := attempt * rf
		attempt++
		if lo >= len(candidates) {
			return retry.Unrecoverable(fmt.Errorf("store %s: no candidates left: %w", rec.Key, kademlia.ErrStoreFailed))
		}
		hi := lo + rf
		if hi > len(candidates) {
			hi = len(candidates)
		}
		acks := n.sendStoreBatch(ctx, rec, candidates[lo:hi])
		if acks == 0 {
			return fmt.Errorf("store %s: batch of %d unacknowledged: %w", rec.Key, hi-lo, kademlia.ErrStoreFailed)
		}
		totalAcks = acks
		return nil
	},
		retry.Attempts(2),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(i uint, err error) {
			n.logger.Warn("Store retry against next-closest peers",
				zap.Uint("attempt", i+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return 0, err
	}
	return totalAcks, nil
}

// sendStoreBatch sends STORE to each peer concurrently and counts acks.
func (n *Node) sendStoreBatch(ctx context.Context, rec storage.Record, peers []kademlia.Contact) int {
	var (
		wg   sync.WaitGroup
		acks atomic.Int32
	)
	for i := range peers {
		peer := peers[i]
		if peer.ID == n.self.ID {
			continue // the origin copy is already in place
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := &protocol.Message{Kind: protocol.KindStore, Key: rec.Key, Value: rec.Value}
			resp, err := n.send(ctx, peer.Address, msg)
			if err != nil {
				n.table.RecordFailure(peer.ID)
				return
			}
			if resp.Kind == protocol.KindStoreOK {
				n.table.Observe(resp.Sender())
				acks.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(acks.Load())
}

// Lookup retrieves the value for key. The local store answers first; a
// value lookup over the network runs otherwise. A found value is cached
// locally so nearby repeat lookups stay cheap.
func (n *Node) Lookup(ctx context.Context, key []byte) ([]byte, error) {
	keyID := kademlia.KeyID(key)

	if rec, ok, err := n.records.Get(keyID); err == nil && ok {
		return rec.Value, nil
	}

	if n.table.Size() == 0 {
		return nil, fmt.Errorf("lookup %s: %w", keyID, kademlia.ErrNetworkUnreachable)
	}

	res, err := n.iterativeLookup(ctx, keyID, true)
	if err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("lookup %s: %w", keyID, kademlia.ErrNotFound)
	}

	now := time.Now()
	cached := storage.Record{
		Key:           keyID,
		Value:         res.Value,
		StoredAt:      now,
		RepublishedAt: now,
		ExpiresAt:     now.Add(n.cfg.Record.TTL),
	}
	if err := n.records.Put(cached); err != nil {
		n.logger.Warn("caching looked-up value failed", zap.Error(err))
	}
	n.logger.Debug("value found",
		zap.String("key", keyID.String()),
		zap.String("from", res.From.ID.String()),
	)
	return res.Value, nil
}
