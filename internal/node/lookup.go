package node

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
)

// lookupResult carries the outcome of one iterative lookup.
type lookupResult struct {
	// Value is set when a FIND_VALUE lookup hit; From names the responder.
	Value []byte
	From  kademlia.Contact
	// Closest holds responsive shortlist peers ascending by distance to the
	// target, up to twice the replication factor so the store engine has a
	// next-closest batch for its bounded retry.
	Closest []kademlia.Contact
}

// iterativeLookup runs the convergent FIND_NODE / FIND_VALUE procedure.
// Rounds of up to alpha RPCs run concurrently; a round that
// brings no peer closer than the best already known triggers one final
// round over the k closest unqueried peers, then the lookup stops.
func (n *Node) iterativeLookup(ctx context.Context, target kademlia.NodeID, findValue bool) (*lookupResult, error) {
	k := n.cfg.Kademlia.BucketSize
	alpha := n.cfg.Kademlia.Alpha

	state := kademlia.NewLookupState(target, n.contactsExcludingSelf(n.table.Closest(target, alpha)))
	state.Improved() // latch the seed distance

	anyResponse := false
	finalRound := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batchSize := alpha
		if finalRound {
			batchSize = k
		}
		batch := state.NextBatch(batchSize)
		if len(batch) == 0 {
			break
		}

		responses := n.queryRound(ctx, state, batch, target, findValue)
		for _, resp := range responses {
			anyResponse = true
			if findValue && resp.msg.Kind == protocol.KindFoundValue && resp.msg.Key == target {
				return &lookupResult{
					Value:   resp.msg.Value,
					From:    resp.from,
					Closest: state.Closest(2 * k),
				}, nil
			}
			state.Add(n.contactsExcludingSelf(resp.msg.Contacts()))
		}

		if finalRound {
			break
		}
		if !state.Improved() {
			finalRound = true
		}
	}

	if !anyResponse {
		return nil, fmt.Errorf("lookup %s: %w", target, kademlia.ErrNetworkUnreachable)
	}
	return &lookupResult{Closest: state.Closest(2 * k)}, nil
}

type roundResponse struct {
	from kademlia.Contact
	msg  *protocol.Message
}

// queryRound issues one parallel round of FIND_NODE / FIND_VALUE RPCs and
// joins on completion. Responders are observed; timeouts are recorded both
// in the lookup state (unresponsive for this lookup) and in the routing
// table's failure counters.
func (n *Node) queryRound(ctx context.Context, state *kademlia.LookupState, batch []kademlia.Contact, target kademlia.NodeID, findValue bool) []roundResponse {
	kind := protocol.KindFindNode
	if findValue {
		kind = protocol.KindFindValue
	}

	var (
		mu        sync.Mutex
		responses []roundResponse
		wg        sync.WaitGroup
	)
	for i := range batch {
		peer := batch[i]
		state.MarkQueried(peer.ID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := n.send(ctx, peer.Address, &protocol.Message{Kind: kind, Key: target})
			if err != nil {
				// Table updates stay outside mu: Observe can probe a full
				// bucket's LRU entry, which blocks up to the RPC timeout.
				n.table.RecordFailure(peer.ID)
				n.logger.Debug("lookup peer unresponsive",
					zap.String("peer", peer.ID.String()),
					zap.Error(err),
				)
				mu.Lock()
				state.MarkFailed(peer.ID)
				mu.Unlock()
				return
			}
			n.table.Observe(resp.Sender())
			mu.Lock()
			responses = append(responses, roundResponse{from: resp.Sender(), msg: resp})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return responses
}
