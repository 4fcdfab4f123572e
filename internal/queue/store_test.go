package queue_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

func TestEnqueueThenListIncludesPayloadWithIncreasingIDs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 5; i++ {
		payload := testsupport.Payload(fmt.Sprintf("report %d", i))
		report, err := store.Enqueue(ctx, payload)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if report.ID <= lastID {
			t.Fatalf("expected id greater than %d, got %d", lastID, report.ID)
		}
		if report.Key == "" {
			t.Fatal("expected delivery key to be assigned")
		}
		lastID = report.ID

		reports, err := store.ListAll(ctx)
		if err != nil {
			t.Fatalf("ListAll failed: %v", err)
		}
		found := false
		for _, r := range reports {
			if r.ID == report.ID && bytes.Equal(r.Payload, payload) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected listed reports to include %d with payload %s", report.ID, payload)
		}
	}
}

func TestListAllOrdersByInsertion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	a := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))
	b := testsupport.MustEnqueue(t, store, testsupport.Payload("b"))
	c := testsupport.MustEnqueue(t, store, testsupport.Payload("c"))

	reports, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(reports) != 3 || reports[0].ID != a.ID || reports[1].ID != b.ID || reports[2].ID != c.ID {
		t.Fatalf("unexpected order: %+v", reports)
	}
}

func TestIDsAreNotReusedAfterRemovingHighest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.MustEnqueue(t, store, testsupport.Payload("first"))
	if _, err := store.Remove(ctx, first.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	second := testsupport.MustEnqueue(t, store, testsupport.Payload("second"))
	if second.ID <= first.ID {
		t.Fatalf("expected id after %d, got %d", first.ID, second.ID)
	}
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	for _, payload := range []string{"", "   ", "{not json"} {
		_, err := store.Enqueue(context.Background(), json.RawMessage(payload))
		if !errors.Is(err, queue.ErrInvalidPayload) {
			t.Fatalf("payload %q: expected ErrInvalidPayload, got %v", payload, err)
		}
	}
}

func TestEnqueueKeyedKeepsCallerKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	report, err := store.EnqueueKeyed(context.Background(), "key-123", testsupport.Payload("keyed"))
	if err != nil {
		t.Fatalf("EnqueueKeyed failed: %v", err)
	}
	fetched, err := store.Get(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched == nil || fetched.Key != "key-123" {
		t.Fatalf("expected stored key key-123, got %+v", fetched)
	}
}

func TestEnqueueOnClosedStoreIsStorageUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = store.Enqueue(context.Background(), testsupport.Payload("lost"))
	if !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestOpenFailsWhenStateDirIsAFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.WriteFile(cfg.Paths.StateDir, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := queue.Open(cfg)
	if !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	report := testsupport.MustEnqueue(t, store, testsupport.Payload("once"))
	removed, err := store.Remove(ctx, report.ID)
	if err != nil || !removed {
		t.Fatalf("expected first remove to delete, got %v %v", removed, err)
	}
	removed, err = store.Remove(ctx, report.ID)
	if err != nil {
		t.Fatalf("second remove returned error: %v", err)
	}
	if removed {
		t.Fatal("expected second remove to report nothing deleted")
	}
	if _, err := store.Remove(ctx, 9999); err != nil {
		t.Fatalf("removing unknown id returned error: %v", err)
	}
}

func TestReportsSurviveReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	report := testsupport.MustEnqueue(t, store, testsupport.Payload("durable"))
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.Get(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched == nil || !bytes.Equal(fetched.Payload, report.Payload) || fetched.Key != report.Key {
		t.Fatalf("expected report to survive reopen, got %+v", fetched)
	}
}

func TestStatsCountsPendingAndDeadLetters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 0 || stats.DeadLettered != 0 || stats.OldestPending != nil {
		t.Fatalf("expected empty stats, got %+v", stats)
	}

	first := testsupport.MustEnqueue(t, store, testsupport.Payload("one"))
	testsupport.MustEnqueue(t, store, testsupport.Payload("two"))
	err = store.WithPass(ctx, func(pass *queue.Pass) error {
		_, err := pass.DeadLetter(ctx, first, "rejected", 422)
		return err
	})
	if err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.DeadLettered != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestPending == nil {
		t.Fatal("expected oldest pending timestamp")
	}
}

func TestCheckHealthReportsTablesAndIntegrity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, testsupport.Payload("health"))

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("unexpected missing tables: %v", health.MissingTables)
	}
	if health.PendingReports != 1 {
		t.Fatalf("expected 1 pending report, got %d", health.PendingReports)
	}
	if health.SchemaVersion != "001_init" {
		t.Fatalf("unexpected schema version %q", health.SchemaVersion)
	}
}

func openRawDB(t *testing.T, store *queue.Store) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
