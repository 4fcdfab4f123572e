package spool_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/queue"
	"fieldsync/internal/spool"
	"fieldsync/internal/testsupport"
)

func newSpool(t *testing.T, opts ...spool.Option) (*spool.Spool, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithSpool())
	require.NoError(t, cfg.EnsureDirectories())
	store := testsupport.MustOpenStore(t, cfg)
	s := spool.New(cfg, store, nil, opts...)
	require.NotNil(t, s)
	return s, store
}

func TestNewDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := spool.New(cfg, nil, nil)
	require.Nil(t, s)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Ingested)
}

func TestScanIngestsValidFilesInNameOrder(t *testing.T) {
	s, store := newSpool(t)
	testsupport.WriteFile(t, filepath.Join(s.Dir(), "b.json"), testsupport.Payload("second"))
	testsupport.WriteFile(t, filepath.Join(s.Dir(), "a.json"), testsupport.Payload("first"))
	testsupport.WriteFile(t, filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"))
	testsupport.WriteFile(t, filepath.Join(s.Dir(), ".hidden.json"), testsupport.Payload("ignored"))

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Ingested, 2)
	assert.Empty(t, result.Rejected)

	reports, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.JSONEq(t, string(testsupport.Payload("first")), string(reports[0].Payload))
	assert.JSONEq(t, string(testsupport.Payload("second")), string(reports[1].Payload))

	assert.NoFileExists(t, filepath.Join(s.Dir(), "a.json"))
	assert.NoFileExists(t, filepath.Join(s.Dir(), "b.json"))
	assert.FileExists(t, filepath.Join(s.Dir(), "notes.txt"))
	assert.FileExists(t, filepath.Join(s.Dir(), ".hidden.json"))
}

func TestScanMovesInvalidFilesAside(t *testing.T) {
	s, store := newSpool(t)
	path := filepath.Join(s.Dir(), "broken.json")
	testsupport.WriteFile(t, path, []byte("{\"category\":"))
	settled := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, settled, settled))

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"broken.json"}, result.Rejected)
	assert.Empty(t, result.Ingested)

	assert.NoFileExists(t, filepath.Join(s.Dir(), "broken.json"))
	assert.FileExists(t, filepath.Join(s.Dir(), spool.RejectedDir, "broken.json"))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestScanDefersInvalidFileStillBeingWritten(t *testing.T) {
	s, store := newSpool(t)
	path := filepath.Join(s.Dir(), "partial.json")
	testsupport.WriteFile(t, path, []byte("{\"category\":"))
	// A modification time ahead of the clock keeps the file inside the
	// debounce window regardless of how slowly the test runs.
	fresh := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, fresh, fresh))

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"partial.json"}, result.Deferred)
	assert.Empty(t, result.Rejected)
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(s.Dir(), spool.RejectedDir, "partial.json"))

	testsupport.WriteFile(t, path, testsupport.Payload("finished"))
	result, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Ingested, 1)
	assert.Empty(t, result.Deferred)

	reports, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.JSONEq(t, string(testsupport.Payload("finished")), string(reports[0].Payload))
}

func TestRescanKeepsDeliveryKey(t *testing.T) {
	s, store := newSpool(t)
	path := filepath.Join(s.Dir(), "same.json")
	payload := testsupport.Payload("duplicate drop")

	testsupport.WriteFile(t, path, payload)
	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	testsupport.WriteFile(t, path, payload)
	_, err = s.Scan(context.Background())
	require.NoError(t, err)

	reports, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, reports[0].Key, reports[1].Key)
}

func TestStartPicksUpExistingAndNewFiles(t *testing.T) {
	var ingested atomic.Int64
	s, store := newSpool(t, spool.WithIngestHook(func(_ context.Context, n int) {
		ingested.Add(int64(n))
	}))
	testsupport.WriteFile(t, filepath.Join(s.Dir(), "before.json"), testsupport.Payload("already there"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop() })
	require.True(t, s.Running())

	require.Eventually(t, func() bool { return ingested.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	testsupport.WriteFile(t, filepath.Join(s.Dir(), "after.json"), testsupport.Payload("dropped later"))
	require.Eventually(t, func() bool { return ingested.Load() == 2 }, 3*time.Second, 20*time.Millisecond)

	reports, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, entry.IsDir(), "unexpected leftover %s", entry.Name())
	}

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
}
