package swapbase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/storage"
)

type fakeStorage struct {
	records []storage.Record
	loadErr error
}

func (f *fakeStorage) Put(ctx context.Context, r storage.Record) error { return nil }
func (f *fakeStorage) Get(ctx context.Context, id models.SwapIdentity) (storage.Record, error) {
	return storage.Record{}, storage.ErrNotFound
}
func (f *fakeStorage) Delete(ctx context.Context, id models.SwapIdentity) error { return nil }
func (f *fakeStorage) LoadAll(ctx context.Context, kind string) ([]storage.Record, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.records, nil
}
func (f *fakeStorage) Query(ctx context.Context, kind string, pred storage.Predicate) ([]storage.Record, error) {
	return nil, nil
}

func TestWatchdog_RunsImmediatePassBeforeFirstTick(t *testing.T) {
	st := &fakeStorage{records: []storage.Record{
		{Identity: models.SwapIdentity{ChainIdentifier: "bsc"}},
		{Identity: models.SwapIdentity{ChainIdentifier: "ethereum"}},
	}}

	var checked int32
	wd := NewWatchdog(st, "tobtcln", time.Hour, func(ctx context.Context, rec storage.Record) error {
		atomic.AddInt32(&checked, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	wd.Run(ctx)

	if got := atomic.LoadInt32(&checked); got != 2 {
		t.Fatalf("checked = %d, want 2 (immediate pass over both records)", got)
	}
}

func TestWatchdog_ContinuesPastACheckError(t *testing.T) {
	st := &fakeStorage{records: []storage.Record{
		{Identity: models.SwapIdentity{ChainIdentifier: "bsc"}},
		{Identity: models.SwapIdentity{ChainIdentifier: "ethereum"}},
	}}

	var checked int32
	wd := NewWatchdog(st, "tobtc", time.Hour, func(ctx context.Context, rec storage.Record) error {
		n := atomic.AddInt32(&checked, 1)
		if n == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	wd.Run(ctx)

	if got := atomic.LoadInt32(&checked); got != 2 {
		t.Fatalf("checked = %d, want 2 (error on one record must not stop the pass)", got)
	}
}

func TestWatchdog_StopsOnContextCancel(t *testing.T) {
	st := &fakeStorage{records: nil}
	wd := NewWatchdog(st, "frombtc", time.Millisecond, func(ctx context.Context, rec storage.Record) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		wd.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestWatchdog_LoadErrorSkipsPassWithoutPanicking(t *testing.T) {
	st := &fakeStorage{loadErr: context.DeadlineExceeded}
	var checked int32
	wd := NewWatchdog(st, "frombtcln", time.Hour, func(ctx context.Context, rec storage.Record) error {
		atomic.AddInt32(&checked, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	wd.Run(ctx)

	if got := atomic.LoadInt32(&checked); got != 0 {
		t.Fatalf("checked = %d, want 0 (LoadAll failure should skip the pass entirely)", got)
	}
}
