package kademlia

import "errors"

// Caller-facing failure taxonomy. Operations wrap these with context via
// fmt.Errorf("...: %w", ...); callers test with errors.Is.
var (
	// ErrTimeout marks a single RPC that did not answer within the bound.
	ErrTimeout = errors.New("rpc timeout")
	// ErrMalformedMessage marks wire data that failed to decode.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrNetworkUnreachable is returned when a lookup or store cannot reach
	// any peer at all.
	ErrNetworkUnreachable = errors.New("network unreachable")
	// ErrNotFound is returned when a value lookup converges without a hit.
	ErrNotFound = errors.New("key not found")
	// ErrStoreFailed is returned when no replica acknowledged a store.
	ErrStoreFailed = errors.New("store not acknowledged by any replica")
	// ErrBootstrapFailed is returned when every seed peer is unreachable.
	ErrBootstrapFailed = errors.New("no bootstrap peer reachable")
)
