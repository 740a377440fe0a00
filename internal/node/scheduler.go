package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/storage"
)

// startSchedulers launches the maintenance loops: record republish, expiry
// sweep, and stale-bucket refresh.
func (n *Node) startSchedulers(ctx context.Context) {
	sched := n.cfg.Schedule

	// Republish: re-store locally held records to the current closest peers
	// so they survive churn and key-space drift as nodes join.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(sched.Republish)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.republish(ctx)
			}
		}
	}()

	// Expiry sweep: drop records past their TTL.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(sched.ExpireSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := n.records.ExpireRecords(); err != nil {
					n.logger.Warn("Expiry sweep failed", zap.Error(err))
				}
			}
		}
	}()

	// Bucket refresh: look up a random ID in each bucket that has seen no
	// traffic for a full refresh interval.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(sched.BucketRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.refreshBuckets(ctx)
			}
		}
	}()
}

// republish re-stores every record due for republish. Expired records are
// never republished; the sweep removes them. Republishing restamps the
// republish time only — expiry is extended by origin re-stores, not here.
func (n *Node) republish(ctx context.Context) {
	cutoff := time.Now().Add(-n.cfg.Schedule.Republish)
	due, err := n.records.ForRepublish(cutoff)
	if err != nil {
		n.logger.Warn("Republish scan failed", zap.Error(err))
		return
	}
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return
		}
		n.republishRecord(ctx, rec)
	}
}

func (n *Node) republishRecord(ctx context.Context, rec storage.Record) {
	res, err := n.iterativeLookup(ctx, rec.Key, false)
	if err != nil {
		n.logger.Debug("Republish lookup failed",
			zap.String("key", rec.Key.String()),
			zap.Error(err),
		)
		return
	}
	rf := n.cfg.Kademlia.ReplicationFactor
	peers := res.Closest
	if len(peers) > rf {
		peers = peers[:rf]
	}
	acks := n.sendStoreBatch(ctx, rec, peers)
	if err := n.records.MarkRepublished(rec.Key, time.Now()); err != nil {
		n.logger.Warn("Marking republish failed", zap.Error(err))
	}
	n.logger.Debug("Republished record",
		zap.String("key", rec.Key.String()),
		zap.Int("replicas", acks),
	)
}

func (n *Node) refreshBuckets(ctx context.Context) {
	cutoff := time.Now().Add(-n.cfg.Schedule.BucketRefresh)
	for _, idx := range n.table.StaleBuckets(cutoff) {
		if err := ctx.Err(); err != nil {
			return
		}
		target := n.table.RandomIDInBucket(idx)
		if _, err := n.iterativeLookup(ctx, target, false); err != nil {
			n.logger.Debug("Bucket refresh lookup failed",
				zap.Int("bucket", idx),
				zap.Error(err),
			)
		}
	}
}

