package syncer_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/collector"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
	"fieldsync/internal/testsupport"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []queue.Report
	fail  map[int64]error
	hook  func(call int, report queue.Report)
}

func (f *fakeTransport) Deliver(_ context.Context, report queue.Report) error {
	f.mu.Lock()
	f.calls = append(f.calls, report)
	call := len(f.calls)
	err := f.fail[report.ID]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(call, report)
	}
	return err
}

func (f *fakeTransport) callIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.calls))
	for _, c := range f.calls {
		ids = append(ids, c.ID)
	}
	return ids
}

func retryable(id int64) error {
	return &collector.DeliveryError{ReportID: id, StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
}

func rejected(id int64) error {
	return &collector.DeliveryError{ReportID: id, StatusCode: http.StatusUnprocessableEntity, Err: errors.New("rejected")}
}

func newEngine(t *testing.T, transport syncer.Transport, deadLetter bool) (*syncer.Engine, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return syncer.NewEngine(store, transport, syncer.Options{DeadLetterRejected: deadLetter}), store
}

func enqueueN(t *testing.T, store *queue.Store, n int) []queue.Report {
	t.Helper()
	reports := make([]queue.Report, 0, n)
	for i := 0; i < n; i++ {
		reports = append(reports, testsupport.MustEnqueue(t, store, testsupport.Payload(fmt.Sprintf("report %d", i))))
	}
	return reports
}

func pendingIDs(t *testing.T, store *queue.Store) []int64 {
	t.Helper()
	reports, err := store.ListAll(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestFlushEmptyStoreIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	engine, _ := newEngine(t, transport, true)

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Snapshot)
	assert.Empty(t, transport.callIDs())
	assert.True(t, result.Complete())
}

func TestFlushDeliversEveryReportOnce(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 5)

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, transport.calls, 5)
	for i, call := range transport.calls {
		assert.Equal(t, reports[i].ID, call.ID)
		assert.JSONEq(t, string(reports[i].Payload), string(call.Payload))
		assert.Equal(t, reports[i].Key, call.Key)
	}
	assert.Len(t, result.Delivered, 5)
	assert.Empty(t, pendingIDs(t, store))
}

func TestFlushKeepsFailedSubsetInOrder(t *testing.T) {
	transport := &fakeTransport{fail: map[int64]error{}}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 6)

	failing := []int64{reports[1].ID, reports[3].ID, reports[4].ID}
	for _, id := range failing {
		transport.fail[id] = retryable(id)
	}

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, failing, pendingIDs(t, store))
	assert.Equal(t, failing, result.Pending)
	assert.Equal(t, []int64{reports[0].ID, reports[2].ID, reports[5].ID}, result.Delivered)
	assert.Len(t, transport.calls, 6, "a failure must not block later reports")
	assert.Len(t, result.Failures, 3)
}

func TestSecondFlushAfterSuccessSendsNothing(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	enqueueN(t, store, 3)

	_, err := engine.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, transport.callIDs(), 3)

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Len(t, transport.callIDs(), 3, "second pass must not resend")
	assert.Zero(t, result.Snapshot)
}

func TestEnqueueDuringFlushIsKeptAndNotSent(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	enqueueN(t, store, 2)

	var late queue.Report
	transport.hook = func(call int, _ queue.Report) {
		if call == 1 {
			late = testsupport.MustEnqueue(t, store, testsupport.Payload("late arrival"))
		}
	}

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Snapshot)
	assert.NotContains(t, transport.callIDs(), late.ID)
	assert.Equal(t, []int64{late.ID}, pendingIDs(t, store))
}

func TestScenarioRetryAfterPartialFailure(t *testing.T) {
	transport := &fakeTransport{fail: map[int64]error{}}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 3)
	a, b, c := reports[0], reports[1], reports[2]
	transport.fail[b.ID] = retryable(b.ID)

	_, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, pendingIDs(t, store))

	delete(transport.fail, b.ID)
	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, result.Delivered)
	assert.Empty(t, pendingIDs(t, store))
	assert.Equal(t, []int64{a.ID, b.ID, c.ID, b.ID}, transport.callIDs())
}

func TestPermanentRejectionIsDeadLettered(t *testing.T) {
	transport := &fakeTransport{fail: map[int64]error{}}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 2)
	transport.fail[reports[0].ID] = rejected(reports[0].ID)

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{reports[0].ID}, result.DeadLettered)
	assert.Equal(t, []int64{reports[1].ID}, result.Delivered)
	assert.Empty(t, pendingIDs(t, store))

	letters, err := store.ListDeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, reports[0].ID, letters[0].ReportID)
	assert.Equal(t, http.StatusUnprocessableEntity, letters[0].StatusCode)

	_, err = engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Len(t, transport.callIDs(), 2, "dead letters are not retried")
}

func TestPermanentRejectionRetriedWhenDeadLetteringDisabled(t *testing.T) {
	transport := &fakeTransport{fail: map[int64]error{}}
	engine, store := newEngine(t, transport, false)
	reports := enqueueN(t, store, 1)
	transport.fail[reports[0].ID] = rejected(reports[0].ID)

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{reports[0].ID}, result.Pending)
	require.Len(t, result.Failures, 1)
	assert.True(t, result.Failures[0].Permanent)
	assert.Equal(t, []int64{reports[0].ID}, pendingIDs(t, store))
}

func TestUnreachableCollectorIsFlagged(t *testing.T) {
	transport := &fakeTransport{fail: map[int64]error{}}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 1)
	transport.fail[reports[0].ID] = &collector.DeliveryError{ReportID: reports[0].ID, Err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED)}

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Unreachable)
	assert.Equal(t, []int64{reports[0].ID}, result.Pending)
}

func TestPanickingTransportCountsAsFailure(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 2)
	transport.hook = func(call int, _ queue.Report) {
		if call == 1 {
			panic("boom")
		}
	}

	result, err := engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{reports[0].ID}, result.Pending)
	assert.Equal(t, []int64{reports[1].ID}, result.Delivered)
}

func TestStoreFailureAbortsPass(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	enqueueN(t, store, 3)

	raw, err := sql.Open("sqlite", store.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	transport.hook = func(call int, _ queue.Report) {
		if call == 1 {
			_, dropErr := raw.Exec("DROP TABLE reports")
			require.NoError(t, dropErr)
		}
	}

	result, err := engine.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrTransactionAborted)
	assert.False(t, result.Complete())
	assert.Len(t, transport.callIDs(), 1, "the pass stops at the failed write")
}

func TestFailedDeleteKeepsEarlierDeletesAndLeavesRestQueued(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 3)

	raw, err := sql.Open("sqlite", store.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	_, err = raw.Exec(fmt.Sprintf(
		"CREATE TRIGGER block_delete BEFORE DELETE ON reports WHEN old.id = %d BEGIN SELECT RAISE(ABORT, 'delete blocked'); END",
		reports[1].ID,
	))
	require.NoError(t, err)

	result, err := engine.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrTransactionAborted)
	assert.Equal(t, []int64{reports[0].ID}, result.Delivered)
	assert.Equal(t, []int64{reports[0].ID, reports[1].ID}, transport.callIDs(), "the pass stops at the failed delete")
	assert.Equal(t, []int64{reports[1].ID, reports[2].ID}, pendingIDs(t, store))
}

func TestCancelledPassLeavesRemainingQueued(t *testing.T) {
	transport := &fakeTransport{}
	engine, store := newEngine(t, transport, true)
	reports := enqueueN(t, store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport.hook = func(call int, _ queue.Report) {
		if call == 1 {
			cancel()
		}
	}

	result, err := engine.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{reports[0].ID}, result.Delivered, "a confirmed delivery is still committed")
	assert.Equal(t, []int64{reports[1].ID, reports[2].ID}, pendingIDs(t, store))
}

func TestResultCarriesTriggerAndPassID(t *testing.T) {
	engine, _ := newEngine(t, &fakeTransport{}, true)
	ctx := logging.WithTrigger(context.Background(), "connectivity")

	first, err := engine.Flush(ctx)
	require.NoError(t, err)
	second, err := engine.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, "connectivity", first.Trigger)
	assert.NotEmpty(t, first.PassID)
	assert.NotEqual(t, first.PassID, second.PassID)
}
