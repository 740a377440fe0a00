package node

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
)

// Bootstrap joins a running network through the given seed addresses: PING
// each seed, observe the ones that answer, then look up our own ID to
// populate the routing table with nearby peers. It fails with
// ErrBootstrapFailed when every seed is unreachable.
func (n *Node) Bootstrap(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		return fmt.Errorf("bootstrap: no seeds given: %w", kademlia.ErrBootstrapFailed)
	}

	reached := 0
	for _, seed := range seeds {
		if err := n.pingSeed(ctx, seed); err != nil {
			n.logger.Warn("Seed unreachable",
				zap.String("seed", seed),
				zap.Error(err),
			)
			continue
		}
		reached++
	}
	if reached == 0 {
		return fmt.Errorf("bootstrap: all %d seeds unreachable: %w", len(seeds), kademlia.ErrBootstrapFailed)
	}

	// Canonical join step: an iterative lookup for our own ID seeds the
	// table with the peers nearest to us.
	if _, err := n.iterativeLookup(ctx, n.self.ID, false); err != nil {
		n.logger.Warn("Self-lookup during bootstrap failed", zap.Error(err))
	}

	n.logger.Info("Bootstrap complete",
		zap.Int("seedsReached", reached),
		zap.Int("peersKnown", n.table.Size()),
	)
	return nil
}

// pingSeed probes one seed with a bounded retry and observes it on success.
func (n *Node) pingSeed(ctx context.Context, seed string) error {
	return retry.Do(func() error {
		rpcCtx, cancel := context.WithTimeout(ctx, n.cfg.Kademlia.RPCTimeout)
		defer cancel()
		resp, err := n.send(rpcCtx, seed, &protocol.Message{Kind: protocol.KindPing})
		if err != nil {
			return err
		}
		if resp.Kind != protocol.KindPong {
			return fmt.Errorf("seed %s answered %s, want PONG", seed, resp.Kind)
		}
		n.table.Observe(resp.Sender())
		return nil
	},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
