package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Payload builds a small incident report document with the given description.
func Payload(description string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"category":"hazard","description":%q}`, description))
}

// MustEnqueue enqueues a report for tests.
func MustEnqueue(t testing.TB, store *queue.Store, payload json.RawMessage) queue.Report {
	t.Helper()

	report, err := store.Enqueue(context.Background(), payload)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return report
}
