package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
)

// PebbleStore is a Pebble LSM-tree backed RecordStore for nodes that opt in
// to surviving restarts with their records intact.
type PebbleStore struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
}

// NewPebbleStore creates a PebbleStore instance (not yet opened).
func NewPebbleStore(dbPath string, logger *zap.Logger) *PebbleStore {
	return &PebbleStore{
		path:   dbPath,
		logger: logger,
	}
}

// Init opens the Pebble database.
func (p *PebbleStore) Init() error {
	opts := &pebble.Options{
		Logger: &pebbleLogger{p.logger},
	}
	db, err := pebble.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("pebble open %s: %w", p.path, err)
	}
	p.db = db
	p.logger.Info("Pebble record store opened", zap.String("path", p.path))
	return nil
}

// Close flushes and closes the database.
func (p *PebbleStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Put inserts or overwrites a record.
func (p *PebbleStore) Put(rec Record) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := p.db.Set(rec.Key[:], data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// Get retrieves an unexpired record.
func (p *PebbleStore) Get(key kademlia.NodeID) (Record, bool, error) {
	data, closer, err := p.db.Get(key[:])
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.Expired(time.Now()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes a record.
func (p *PebbleStore) Delete(key kademlia.NodeID) error {
	if err := p.db.Delete(key[:], pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

// ExpireRecords drops all records whose TTL has passed.
func (p *PebbleStore) ExpireRecords() (int, error) {
	now := time.Now()
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var expired [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := msgpack.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Expired(now) {
			k := make([]byte, len(iter.Key()))
			copy(k, iter.Key())
			expired = append(expired, k)
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}

	if len(expired) == 0 {
		return 0, nil
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	for _, k := range expired {
		if err := batch.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}

	p.logger.Info("Expired records removed", zap.Int("count", len(expired)))
	return len(expired), nil
}

// ForRepublish returns unexpired records last republished before cutoff.
func (p *PebbleStore) ForRepublish(cutoff time.Time) ([]Record, error) {
	now := time.Now()
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := msgpack.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Expired(now) {
			continue
		}
		if rec.RepublishedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRepublished stamps the republish time without touching expiry.
func (p *PebbleStore) MarkRepublished(key kademlia.NodeID, at time.Time) error {
	rec, ok, err := p.Get(key)
	if err != nil || !ok {
		return err
	}
	rec.RepublishedAt = at
	return p.Put(rec)
}

// Len returns the record count by scanning. Pebble keeps no O(1) count.
func (p *PebbleStore) Len() int {
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return 0
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
