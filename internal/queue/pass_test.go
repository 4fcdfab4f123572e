package queue_test

import (
	"context"
	"errors"
	"testing"

	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

func TestPassSnapshotExcludesLaterEnqueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))
	pass, err := store.BeginPass(ctx)
	if err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}
	defer pass.Close()

	late := testsupport.MustEnqueue(t, store, testsupport.Payload("late"))

	records := pass.Records()
	if len(records) != 1 || records[0].ID != a.ID {
		t.Fatalf("expected snapshot of [%d], got %+v", a.ID, records)
	}
	if _, err := pass.Remove(ctx, a.ID); err != nil {
		t.Fatalf("pass.Remove failed: %v", err)
	}
	if err := pass.Close(); err != nil {
		t.Fatalf("pass.Close failed: %v", err)
	}

	remaining, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != late.ID {
		t.Fatalf("expected only late report to remain, got %+v", remaining)
	}
}

func TestPassRemoveCommitsBeforePassEnds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))
	b := testsupport.MustEnqueue(t, store, testsupport.Payload("b"))

	err := store.WithPass(ctx, func(pass *queue.Pass) error {
		if _, err := pass.Remove(ctx, a.ID); err != nil {
			return err
		}
		reports, err := store.ListAll(ctx)
		if err != nil {
			return err
		}
		if len(reports) != 1 || reports[0].ID != b.ID {
			t.Errorf("expected delete to be visible mid-pass, got %+v", reports)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithPass failed: %v", err)
	}
}

func TestOverlappingPassesDoNotDoubleDelete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))

	first, err := store.BeginPass(ctx)
	if err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}
	defer first.Close()
	second, err := store.BeginPass(ctx)
	if err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}
	defer second.Close()

	removed, err := first.Remove(ctx, a.ID)
	if err != nil || !removed {
		t.Fatalf("expected first pass to delete, got %v %v", removed, err)
	}
	removed, err = second.Remove(ctx, a.ID)
	if err != nil {
		t.Fatalf("second pass remove returned error: %v", err)
	}
	if removed {
		t.Fatal("expected second pass to find the report already gone")
	}

	third, err := store.BeginPass(ctx)
	if err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}
	defer third.Close()
	if len(third.Records()) != 0 {
		t.Fatalf("expected later snapshot to be empty, got %+v", third.Records())
	}
}

func TestPassDeadLetterAndRequeue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rejected := testsupport.MustEnqueue(t, store, testsupport.Payload("oversized"))
	other := testsupport.MustEnqueue(t, store, testsupport.Payload("fine"))

	err := store.WithPass(ctx, func(pass *queue.Pass) error {
		moved, err := pass.DeadLetter(ctx, rejected, "collector rejected report: 413", 413)
		if err == nil && !moved {
			t.Errorf("expected report to be moved")
		}
		return err
	})
	if err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	letters, err := store.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	letter := letters[0]
	if letter.ReportID != rejected.ID || letter.Key != rejected.Key || letter.StatusCode != 413 {
		t.Fatalf("unexpected dead letter: %+v", letter)
	}
	if got, _ := store.Get(ctx, rejected.ID); got != nil {
		t.Fatal("expected rejected report to leave the queue")
	}

	requeued, err := store.RequeueDeadLetter(ctx, letter.ID)
	if err != nil {
		t.Fatalf("RequeueDeadLetter failed: %v", err)
	}
	if requeued.ID <= other.ID {
		t.Fatalf("expected requeued id after %d, got %d", other.ID, requeued.ID)
	}
	if requeued.Key != rejected.Key {
		t.Fatalf("expected key %q to be kept, got %q", rejected.Key, requeued.Key)
	}
	letters, err = store.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(letters) != 0 {
		t.Fatalf("expected dead letters to be empty, got %d", len(letters))
	}

	if _, err := store.RequeueDeadLetter(ctx, letter.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second requeue, got %v", err)
	}
}

func TestPurgeDeadLetters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))
	b := testsupport.MustEnqueue(t, store, testsupport.Payload("b"))
	err := store.WithPass(ctx, func(pass *queue.Pass) error {
		for _, r := range []queue.Report{a, b} {
			if _, err := pass.DeadLetter(ctx, r, "rejected", 400); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	purged, err := store.PurgeDeadLetters(ctx)
	if err != nil {
		t.Fatalf("PurgeDeadLetters failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
}

func TestPassOperationsAfterCloseAbort(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	report := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))
	pass, err := store.BeginPass(ctx)
	if err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}
	if err := pass.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pass.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := pass.Remove(ctx, report.ID); !errors.Is(err, queue.ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
	if _, err := pass.DeadLetter(ctx, report, "x", 400); !errors.Is(err, queue.ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
}

func TestPassRemoveStorageFailureAborts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	report := testsupport.MustEnqueue(t, store, testsupport.Payload("a"))
	pass, err := store.BeginPass(ctx)
	if err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}
	defer pass.Close()

	raw := openRawDB(t, store)
	if _, err := raw.ExecContext(ctx, "DROP TABLE reports"); err != nil {
		t.Fatalf("drop reports: %v", err)
	}

	if _, err := pass.Remove(ctx, report.ID); !errors.Is(err, queue.ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
}

func TestBeginPassOnClosedStoreAborts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = store.Close()

	if _, err := store.BeginPass(context.Background()); !errors.Is(err, queue.ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
}
