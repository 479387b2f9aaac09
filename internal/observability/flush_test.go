package observability

import (
	"context"
	"errors"
	"testing"
)

type fakeFlusher struct {
	calls int
	err   error
}

func (f *fakeFlusher) Flush() error {
	f.calls++
	return f.err
}

func TestFlushTelemetry_FlushesAll(t *testing.T) {
	a, b := &fakeFlusher{}, &fakeFlusher{}
	if err := FlushTelemetry(context.Background(), nil, a, nil, b); err != nil {
		t.Fatalf("FlushTelemetry: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d, %d, want 1, 1", a.calls, b.calls)
	}
}

func TestFlushTelemetry_JoinsErrors(t *testing.T) {
	errDisk := errors.New("disk full")
	a, b := &fakeFlusher{err: errDisk}, &fakeFlusher{}
	err := FlushTelemetry(context.Background(), nil, a, b)
	if !errors.Is(err, errDisk) {
		t.Errorf("err = %v, want %v", err, errDisk)
	}
	if b.calls != 1 {
		t.Error("flush stopped after first failure")
	}
}

func TestFlushTelemetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFlusher{}
	err := FlushTelemetry(ctx, nil, f)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if f.calls != 0 {
		t.Error("flusher called after cancellation")
	}
}
