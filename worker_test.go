// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

func startWorker(t *testing.T, w *Worker) (wait func() error) {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		errc <- w.Run(context.Background())
	}()
	return func() error {
		select {
		case err := <-errc:
			return err
		case <-time.After(testTimeout):
			t.Fatal("worker Run timed out")
			return nil
		}
	}
}

func TestWorkerDefaults(t *testing.T) {
	w := NewWorker(New(), NewRegistry())
	if have, want := w.State(), WorkerIdle; have != want {
		t.Fatalf("state = %q, want %q", have, want)
	}
	if have, want := len(w.queues), 1; have != want {
		t.Fatalf("len(queues) = %d, want %d", have, want)
	}
	if have, want := w.queues[0], DefaultQueue; have != want {
		t.Fatalf("queues[0] = %q, want %q", have, want)
	}
	if have, want := w.sleep, defaultSleepInterval; have != want {
		t.Fatalf("sleep = %v, want %v", have, want)
	}
}

func TestWorkerProcessesJob(t *testing.T) {
	m := New()
	ctx := context.Background()

	jobDone := make(chan Payload, 1)
	typ := NewJobType("greet", func(ctx context.Context, payload Payload) error {
		jobDone <- payload
		return nil
	})
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if _, err := m.Dispatch(ctx, typ, Payload{"name": "alice"}); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	w := NewWorker(m, reg, SetSleepInterval(10*time.Millisecond))
	succeeded := make(chan struct{}, 1)
	w.testJobSucceeded = func() { succeeded <- struct{}{} }

	wait := startWorker(t, w)

	select {
	case payload := <-jobDone:
		if have, want := payload["name"], "alice"; have != want {
			t.Fatalf("payload[name] = %v, want %v", have, want)
		}
	case <-time.After(testTimeout):
		t.Fatal("handler timed out")
	}
	select {
	case <-succeeded:
	case <-time.After(testTimeout):
		t.Fatal("job completion timed out")
	}

	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	if have, want := w.Processed(), 1; have != want {
		t.Fatalf("processed = %d, want %d", have, want)
	}
	if have, want := w.Failed(), 0; have != want {
		t.Fatalf("failed = %d, want %d", have, want)
	}
	if have, want := w.State(), WorkerStopped; have != want {
		t.Fatalf("state = %q, want %q", have, want)
	}
}

// TestWorkerRetryUntilPermanentFailure runs a job that fails on every
// attempt. With MaxRetries=2 it must be retried exactly twice, then
// fail terminally with the permanent-failure hook invoked exactly
// once.
func TestWorkerRetryUntilPermanentFailure(t *testing.T) {
	m := New(SetLogger(&stringLogger{}))
	ctx := context.Background()

	hooked := make(chan error, 2)
	typ := NewJobType("doomed",
		func(ctx context.Context, payload Payload) error {
			return errors.New("kaboom")
		},
		SetMaxRetries(2),
		SetRetryDelay(time.Millisecond),
		SetPermanentFailureHook(func(payload Payload, err error) {
			hooked <- err
		}),
	)
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if _, err := m.Dispatch(ctx, typ, nil); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	w := NewWorker(m, reg,
		SetSleepInterval(5*time.Millisecond),
		SetWorkerLogger(&stringLogger{}),
	)
	retried := make(chan struct{}, 4)
	failed := make(chan struct{}, 1)
	w.testJobRetried = func() { retried <- struct{}{} }
	w.testJobFailed = func() { failed <- struct{}{} }

	wait := startWorker(t, w)

	for i := 0; i < 2; i++ {
		select {
		case <-retried:
		case <-time.After(testTimeout):
			t.Fatalf("retry %d timed out", i+1)
		}
	}
	select {
	case <-failed:
	case <-time.After(testTimeout):
		t.Fatal("terminal failure timed out")
	}
	select {
	case err := <-hooked:
		if have, want := err.Error(), "kaboom"; have != want {
			t.Fatalf("hook error = %q, want %q", have, want)
		}
	case <-time.After(testTimeout):
		t.Fatal("permanent-failure hook timed out")
	}

	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	if have, want := w.Failed(), 1; have != want {
		t.Fatalf("failed = %d, want %d", have, want)
	}
	if have, want := w.Processed(), 0; have != want {
		t.Fatalf("processed = %d, want %d", have, want)
	}
	select {
	case <-hooked:
		t.Fatal("permanent-failure hook invoked more than once")
	default:
	}
	size, err := m.Size(ctx, DefaultQueue)
	if err != nil {
		t.Fatalf("Size failed with %v", err)
	}
	if size != 0 {
		t.Fatalf("size = %d, want 0 after terminal failure", size)
	}
}

func TestWorkerUnknownJobType(t *testing.T) {
	m := New(SetLogger(&stringLogger{}))
	ctx := context.Background()

	typ := NewJobType("unregistered", func(ctx context.Context, payload Payload) error { return nil })
	if _, err := m.Dispatch(ctx, typ, nil); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	logger := &stringLogger{}
	w := NewWorker(m, NewRegistry(),
		SetSleepInterval(5*time.Millisecond),
		SetWorkerLogger(logger),
	)
	failed := make(chan struct{}, 1)
	w.testJobFailed = func() { failed <- struct{}{} }

	wait := startWorker(t, w)

	select {
	case <-failed:
	case <-time.After(testTimeout):
		t.Fatal("failure timed out")
	}
	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}

	if have, want := w.Failed(), 1; have != want {
		t.Fatalf("failed = %d, want %d", have, want)
	}
	// No retry: the envelope is gone.
	size, err := m.Size(ctx, DefaultQueue)
	if err != nil {
		t.Fatalf("Size failed with %v", err)
	}
	if size != 0 {
		t.Fatalf("size = %d, want 0", size)
	}
	if logger.Len() == 0 {
		t.Fatal("expected the dropped job to be logged")
	}
}

func TestWorkerTimeout(t *testing.T) {
	m := New(SetLogger(&stringLogger{}))
	ctx := context.Background()

	hooked := make(chan error, 1)
	typ := NewJobType("slow",
		func(ctx context.Context, payload Payload) error {
			time.Sleep(250 * time.Millisecond)
			return nil
		},
		SetTimeout(20*time.Millisecond),
		SetMaxRetries(0),
		SetPermanentFailureHook(func(payload Payload, err error) {
			hooked <- err
		}),
	)
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if _, err := m.Dispatch(ctx, typ, nil); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	w := NewWorker(m, reg,
		SetSleepInterval(5*time.Millisecond),
		SetWorkerLogger(&stringLogger{}),
	)
	wait := startWorker(t, w)

	select {
	case err := <-hooked:
		if !strings.Contains(err.Error(), "timed out") {
			t.Fatalf("expected a timeout error, have %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("permanent-failure hook timed out")
	}
	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	if have, want := w.Failed(), 1; have != want {
		t.Fatalf("failed = %d, want %d", have, want)
	}
}

func TestWorkerMaxJobs(t *testing.T) {
	m := New()
	ctx := context.Background()

	typ := NewJobType("count", func(ctx context.Context, payload Payload) error { return nil })
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Dispatch(ctx, typ, nil); err != nil {
			t.Fatalf("Dispatch failed with %v", err)
		}
	}

	w := NewWorker(m, reg,
		SetSleepInterval(5*time.Millisecond),
		SetMaxJobs(2),
	)
	wait := startWorker(t, w)
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}

	if have, want := w.Processed(), 2; have != want {
		t.Fatalf("processed = %d, want %d", have, want)
	}
	if have, want := w.State(), WorkerStopped; have != want {
		t.Fatalf("state = %q, want %q", have, want)
	}
	size, err := m.Size(ctx, DefaultQueue)
	if err != nil {
		t.Fatalf("Size failed with %v", err)
	}
	if have, want := size, 1; have != want {
		t.Fatalf("size = %d, want %d (third job stays queued)", have, want)
	}
}

func TestWorkerStopWhileIdle(t *testing.T) {
	w := NewWorker(New(), NewRegistry(), SetSleepInterval(5*time.Millisecond))
	wait := startWorker(t, w)
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	if have, want := w.State(), WorkerStopped; have != want {
		t.Fatalf("state = %q, want %q", have, want)
	}
	// A stopped worker cannot be restarted.
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected Run on a stopped worker to fail")
	}
}

func TestWorkerContextCancel(t *testing.T) {
	w := NewWorker(New(), NewRegistry(), SetSleepInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- w.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, have %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run timed out after cancel")
	}
}

// TestWorkerQueueOrder dispatches into two queues and verifies the
// earlier-listed queue is always drained first.
func TestWorkerQueueOrder(t *testing.T) {
	m := New()
	ctx := context.Background()

	order := make(chan string, 2)
	handler := func(ctx context.Context, payload Payload) error {
		order <- payload["queue"].(string)
		return nil
	}
	typ := NewJobType("probe", handler)
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}

	// Dispatch into "default" first so enqueue order cannot mask the
	// queue polling order.
	if _, err := m.Dispatch(ctx, typ, Payload{"queue": "default"}); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}
	if _, err := m.Dispatch(ctx, typ, Payload{"queue": "critical"}, WithQueue("critical")); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	w := NewWorker(m, reg,
		SetQueues("critical", "default"),
		SetSleepInterval(5*time.Millisecond),
		SetMaxJobs(2),
	)
	wait := startWorker(t, w)
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}

	for i, want := range []string{"critical", "default"} {
		select {
		case have := <-order:
			if have != want {
				t.Fatalf("job %d came from queue %q, want %q", i, have, want)
			}
		default:
			t.Fatalf("missing job %d", i)
		}
	}
}

func TestWorkerPanicInHandler(t *testing.T) {
	m := New(SetLogger(&stringLogger{}))
	ctx := context.Background()

	hooked := make(chan error, 1)
	typ := NewJobType("panicky",
		func(ctx context.Context, payload Payload) error {
			panic("boom")
		},
		SetMaxRetries(0),
		SetPermanentFailureHook(func(payload Payload, err error) {
			hooked <- err
		}),
	)
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if _, err := m.Dispatch(ctx, typ, nil); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	w := NewWorker(m, reg,
		SetSleepInterval(5*time.Millisecond),
		SetWorkerLogger(&stringLogger{}),
	)
	wait := startWorker(t, w)

	select {
	case err := <-hooked:
		if !strings.Contains(err.Error(), "handler panic") {
			t.Fatalf("expected a panic error, have %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("permanent-failure hook timed out")
	}
	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
}

// TestWorkerPanicInFailureHook makes sure a crashing hook never kills
// the poll loop.
func TestWorkerPanicInFailureHook(t *testing.T) {
	m := New(SetLogger(&stringLogger{}))
	ctx := context.Background()

	typ := NewJobType("doomed",
		func(ctx context.Context, payload Payload) error {
			return errors.New("kaboom")
		},
		SetMaxRetries(0),
		SetPermanentFailureHook(func(payload Payload, err error) {
			panic("hook gone wrong")
		}),
	)
	reg := NewRegistry()
	if err := reg.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if _, err := m.Dispatch(ctx, typ, nil); err != nil {
		t.Fatalf("Dispatch failed with %v", err)
	}

	logger := &stringLogger{}
	w := NewWorker(m, reg,
		SetSleepInterval(5*time.Millisecond),
		SetWorkerLogger(logger),
	)
	failed := make(chan struct{}, 1)
	w.testJobFailed = func() { failed <- struct{}{} }

	wait := startWorker(t, w)
	select {
	case <-failed:
	case <-time.After(testTimeout):
		t.Fatal("failure timed out")
	}
	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	if logger.Len() == 0 {
		t.Fatal("expected the hook panic to be logged")
	}
}

type failingPopDriver struct {
	*InMemoryDriver
}

func (d *failingPopDriver) Pop(ctx context.Context) (*Envelope, error) {
	return nil, errors.New("storage unavailable")
}

// TestWorkerPopErrorContinues verifies a transient pop failure is
// treated like an empty cycle instead of crashing the loop.
func TestWorkerPopErrorContinues(t *testing.T) {
	m := New(
		SetLogger(&stringLogger{}),
		SetDriverFactory(func(queue string) (Driver, error) {
			return &failingPopDriver{InMemoryDriver: NewInMemoryDriver(queue)}, nil
		}),
	)

	logger := &stringLogger{}
	w := NewWorker(m, NewRegistry(),
		SetSleepInterval(time.Millisecond),
		SetWorkerLogger(logger),
	)
	popErr := make(chan struct{}, 8)
	w.testPopError = func() { popErr <- struct{}{} }

	wait := startWorker(t, w)
	for i := 0; i < 3; i++ {
		select {
		case <-popErr:
		case <-time.After(testTimeout):
			t.Fatal("pop error timed out")
		}
	}
	w.Stop()
	if err := wait(); err != nil {
		t.Fatalf("Run failed with %v", err)
	}
	if logger.Len() == 0 {
		t.Fatal("expected pop errors to be logged")
	}
}
