package kademlia

// LookupState tracks one in-flight iterative lookup: the distance-ordered
// shortlist, the peers already queried, and the peers that failed to answer
// within this lookup. It is pure bookkeeping; the node drives the RPCs.
// Not safe for concurrent use — the lookup loop owns it between rounds.
type LookupState struct {
	target    NodeID
	shortlist *candidates
	queried   map[NodeID]bool
	failed    map[NodeID]bool

	best    NodeID
	hasBest bool
}

// NewLookupState seeds a lookup toward target with the given contacts.
func NewLookupState(target NodeID, seed []Contact) *LookupState {
	ls := &LookupState{
		target:    target,
		shortlist: newCandidates(target),
		queried:   make(map[NodeID]bool),
		failed:    make(map[NodeID]bool),
	}
	ls.Add(seed)
	return ls
}

// Target returns the lookup target.
func (ls *LookupState) Target() NodeID { return ls.target }

// Add merges contacts into the shortlist. Duplicates are dropped; the sort
// is stable, so equal distances keep first-seen order.
func (ls *LookupState) Add(contacts []Contact) {
	ls.shortlist.appendUnique(contacts)
	ls.shortlist.sortByDistance()
}

// MarkQueried records that the peer has been sent a query.
func (ls *LookupState) MarkQueried(id NodeID) {
	ls.queried[id] = true
}

// MarkFailed records that the peer did not answer within this lookup.
// The peer stays in the routing table; repeated failures across lookups
// drive eviction there.
func (ls *LookupState) MarkFailed(id NodeID) {
	ls.failed[id] = true
}

// NextBatch returns up to n of the closest shortlist peers not yet queried.
func (ls *LookupState) NextBatch(n int) []Contact {
	var batch []Contact
	for _, c := range ls.shortlist.contacts {
		if len(batch) >= n {
			break
		}
		if ls.queried[c.ID] || c.Address == "" {
			continue
		}
		batch = append(batch, c)
	}
	return batch
}

// Closest returns up to n responsive (non-failed) peers nearest the target.
func (ls *LookupState) Closest(n int) []Contact {
	out := make([]Contact, 0, n)
	for _, c := range ls.shortlist.contacts {
		if len(out) >= n {
			break
		}
		if ls.failed[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Improved reports whether the closest known responsive peer moved nearer
// the target since the previous call, and latches the new best. The first
// call with a non-empty shortlist always reports progress.
func (ls *LookupState) Improved() bool {
	head := ls.Closest(1)
	if len(head) == 0 {
		return false
	}
	d := head[0].ID.Distance(ls.target)
	if !ls.hasBest {
		ls.best = d
		ls.hasBest = true
		return true
	}
	if d.Less(ls.best) {
		ls.best = d
		return true
	}
	return false
}
