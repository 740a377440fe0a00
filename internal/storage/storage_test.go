package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/storage"
)

// backends runs every test against both stores so they stay interchangeable.
func backends(t *testing.T) map[string]storage.RecordStore {
	t.Helper()
	return map[string]storage.RecordStore{
		"memory": storage.NewMemoryStore(zap.NewNop()),
		"pebble": storage.NewPebbleStore(t.TempDir(), zap.NewNop()),
	}
}

func setupStore(t *testing.T, s storage.RecordStore) {
	t.Helper()
	require.NoError(t, s.Init())
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
}

func recordFor(value string, ttl time.Duration) storage.Record {
	now := time.Now()
	return storage.Record{
		Key:           kademlia.KeyID([]byte(value)),
		Value:         []byte(value),
		StoredAt:      now,
		RepublishedAt: now,
		ExpiresAt:     now.Add(ttl),
	}
}

func TestPutGetDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			setupStore(t, s)

			rec := recordFor("hello", time.Hour)
			require.NoError(t, s.Put(rec))

			got, ok, err := s.Get(rec.Key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec.Value, got.Value)
			assert.Equal(t, 1, s.Len())

			require.NoError(t, s.Delete(rec.Key))
			_, ok, err = s.Get(rec.Key)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 0, s.Len())
		})
	}
}

func TestGetMissingKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			setupStore(t, s)

			_, ok, err := s.Get(kademlia.NewRandomNodeID())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			setupStore(t, s)

			rec := recordFor("versioned", time.Hour)
			require.NoError(t, s.Put(rec))
			rec.Value = []byte("updated")
			require.NoError(t, s.Put(rec))

			got, ok, err := s.Get(rec.Key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("updated"), got.Value)
			assert.Equal(t, 1, s.Len())
		})
	}
}

func TestExpiredRecordsAreInvisible(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			setupStore(t, s)

			expired := recordFor("stale", -time.Minute)
			live := recordFor("fresh", time.Hour)
			require.NoError(t, s.Put(expired))
			require.NoError(t, s.Put(live))

			_, ok, err := s.Get(expired.Key)
			require.NoError(t, err)
			assert.False(t, ok, "expired record must not be served")

			_, ok, err = s.Get(live.Key)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestExpireRecordsSweep(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			setupStore(t, s)

			require.NoError(t, s.Put(recordFor("a", -time.Minute)))
			require.NoError(t, s.Put(recordFor("b", -time.Minute)))
			require.NoError(t, s.Put(recordFor("c", time.Hour)))

			n, err := s.ExpireRecords()
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, 1, s.Len())
		})
	}
}

func TestForRepublishAndMark(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			setupStore(t, s)

			old := recordFor("old", time.Hour)
			old.RepublishedAt = time.Now().Add(-2 * time.Hour)
			recent := recordFor("recent", time.Hour)
			expired := recordFor("gone", -time.Minute)
			expired.RepublishedAt = time.Now().Add(-2 * time.Hour)

			require.NoError(t, s.Put(old))
			require.NoError(t, s.Put(recent))
			require.NoError(t, s.Put(expired))

			cutoff := time.Now().Add(-time.Hour)
			due, err := s.ForRepublish(cutoff)
			require.NoError(t, err)
			require.Len(t, due, 1, "only the stale unexpired record is due")
			assert.Equal(t, old.Key, due[0].Key)

			require.NoError(t, s.MarkRepublished(old.Key, time.Now()))
			due, err = s.ForRepublish(cutoff)
			require.NoError(t, err)
			assert.Empty(t, due)

			got, ok, err := s.Get(old.Key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.WithinDuration(t, old.ExpiresAt, got.ExpiresAt, time.Second,
				"republish must not extend expiry")
		})
	}
}

func TestPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	s := storage.NewPebbleStore(dir, logger)
	require.NoError(t, s.Init())
	rec := recordFor("durable", time.Hour)
	require.NoError(t, s.Put(rec))
	require.NoError(t, s.Close())

	s = storage.NewPebbleStore(dir, logger)
	require.NoError(t, s.Init())
	defer s.Close()

	got, ok, err := s.Get(rec.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Value, got.Value)
}
