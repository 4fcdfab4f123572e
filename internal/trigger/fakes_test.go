package trigger_test

import (
	"context"
	"sync"

	"fieldsync/internal/syncer"
)

// fakeInvoker records trigger names instead of running passes.
type fakeInvoker struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeInvoker) Fire(_ context.Context, name string) (syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, name)
	return syncer.Result{Trigger: name}, nil
}

func (f *fakeInvoker) Go(ctx context.Context, name string) {
	_, _ = f.Fire(ctx, name)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func (f *fakeInvoker) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}
