package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeRunner struct {
	mu sync.Mutex

	startCh  chan struct{}
	startErr error

	stopCalled bool
	stopErr    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{startCh: make(chan struct{})}
}

func (f *fakeRunner) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeRunner) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
	return f.stopErr
}

func (f *fakeRunner) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalled
}

func nopLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestRunSignalShutsDownReturns0AndCallsStop(t *testing.T) {
	t.Parallel()

	svc := newFakeRunner()
	sigCh := make(chan os.Signal, 1)

	done := make(chan int, 1)
	go func() { done <- run(svc, sigCh, nopLogger()) }()

	sigCh <- os.Interrupt

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected code=0, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("run did not return in time")
	}

	if !svc.wasStopped() {
		t.Fatalf("expected Stop to be called")
	}
}

func TestRunStartFailureReturns1WithoutStop(t *testing.T) {
	t.Parallel()

	svc := newFakeRunner()
	svc.startErr = errors.New("start failed")

	sigCh := make(chan os.Signal, 1)
	code := run(svc, sigCh, nopLogger())

	if code != 1 {
		t.Fatalf("expected code=1, got %d", code)
	}
	if svc.wasStopped() {
		t.Fatalf("did not expect Stop to be called when Start fails before any signal")
	}
}

func TestRunToleratesStopError(t *testing.T) {
	t.Parallel()

	svc := newFakeRunner()
	svc.stopErr = errors.New("stop failed")

	sigCh := make(chan os.Signal, 1)
	done := make(chan int, 1)
	go func() { done <- run(svc, sigCh, nopLogger()) }()

	sigCh <- os.Interrupt

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected code=0 even when Stop errors, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("run did not return in time")
	}
}
