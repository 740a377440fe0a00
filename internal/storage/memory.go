package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
)

// MemoryStore is the default RecordStore: a mutex-guarded map, rebuilt from
// the network after a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[kademlia.NodeID]Record
	logger  *zap.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[kademlia.NodeID]Record),
		logger:  logger,
	}
}

// Init implements RecordStore.
func (s *MemoryStore) Init() error { return nil }

// Close implements RecordStore.
func (s *MemoryStore) Close() error { return nil }

// Put inserts or overwrites a record. The value is copied to avoid aliasing
// caller buffers.
func (s *MemoryStore) Put(rec Record) error {
	v := make([]byte, len(rec.Value))
	copy(v, rec.Value)
	rec.Value = v

	s.mu.Lock()
	s.records[rec.Key] = rec
	s.mu.Unlock()
	return nil
}

// Get returns an unexpired record.
func (s *MemoryStore) Get(key kademlia.NodeID) (Record, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok || rec.Expired(time.Now()) {
		return Record{}, false, nil
	}
	out := rec
	out.Value = make([]byte, len(rec.Value))
	copy(out.Value, rec.Value)
	return out, true, nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(key kademlia.NodeID) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// ExpireRecords drops all expired records.
func (s *MemoryStore) ExpireRecords() (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Expired records removed", zap.Int("count", removed))
	}
	return removed, nil
}

// ForRepublish returns unexpired records last republished before cutoff.
func (s *MemoryStore) ForRepublish(cutoff time.Time) ([]Record, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Expired(now) {
			continue
		}
		if rec.RepublishedAt.Before(cutoff) {
			cp := rec
			cp.Value = make([]byte, len(rec.Value))
			copy(cp.Value, rec.Value)
			out = append(out, cp)
		}
	}
	return out, nil
}

// MarkRepublished stamps the republish time without touching expiry.
func (s *MemoryStore) MarkRepublished(key kademlia.NodeID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.RepublishedAt = at
		s.records[key] = rec
	}
	return nil
}

// Len returns the record count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
