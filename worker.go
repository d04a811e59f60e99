// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultSleepInterval = 1 * time.Second
)

// Worker states as reported by State.
const (
	WorkerIdle    = "idle"    // constructed, Run not yet called
	WorkerRunning = "running" // inside the poll loop
	WorkerStopped = "stopped" // loop exited; terminal
)

// Worker polls a fixed list of queue names and executes one job at a
// time. Create a new worker via NewWorker, run its loop with Run, and
// stop it cooperatively with Stop. A stopped worker cannot be
// restarted; create a new instance instead.
type Worker struct {
	m      *Manager
	reg    *Registry
	queues []string
	sleep  time.Duration
	// maxJobs stops the loop once that many jobs completed
	// successfully; zero means unbounded.
	maxJobs int
	logger  Logger

	mu        sync.Mutex // guards the following block
	state     string
	processed int
	failed    int

	stopc    chan struct{}
	stopOnce sync.Once

	testJobStarted   func() // testing hook
	testJobSucceeded func() // testing hook
	testJobRetried   func() // testing hook
	testJobFailed    func() // testing hook
	testPopError     func() // testing hook
}

// WorkerOption is the signature of an options provider.
type WorkerOption func(*Worker)

// NewWorker creates a worker that resolves handlers in reg and polls
// the default queue every second. Pass options to change queues, poll
// interval, or job bound.
func NewWorker(m *Manager, reg *Registry, options ...WorkerOption) *Worker {
	w := &Worker{
		m:                m,
		reg:              reg,
		queues:           []string{DefaultQueue},
		sleep:            defaultSleepInterval,
		logger:           stdLogger{},
		state:            WorkerIdle,
		stopc:            make(chan struct{}),
		testJobStarted:   nop,
		testJobSucceeded: nop,
		testJobRetried:   nop,
		testJobFailed:    nop,
		testPopError:     nop,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// SetQueues sets the queue names to poll, in the given fixed order.
// Earlier queues are always tried first, so they can starve later ones
// under sustained load; order the list by urgency.
func SetQueues(names ...string) WorkerOption {
	return func(w *Worker) {
		if len(names) > 0 {
			w.queues = names
		}
	}
}

// SetSleepInterval sets how long the worker sleeps after a poll cycle
// that yielded no job.
func SetSleepInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.sleep = d
		}
	}
}

// SetMaxJobs stops the worker after n successfully processed jobs.
func SetMaxJobs(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxJobs = n
		}
	}
}

// SetWorkerLogger specifies the logger for job failures and poll
// errors.
func SetWorkerLogger(logger Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Run executes the poll loop until Stop is called or ctx is cancelled.
// It returns ctx.Err in the latter case. The job in flight is always
// finished before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.state != WorkerIdle {
		w.mu.Unlock()
		return errors.New("queuekit: worker already started")
	}
	w.state = WorkerRunning
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.state = WorkerStopped
		w.mu.Unlock()
	}()

	for {
		select {
		case <-w.stopc:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env := w.poll(ctx)
		if env == nil {
			select {
			case <-w.stopc:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.sleep):
			}
			continue
		}

		w.process(ctx, env)

		if w.maxJobs > 0 && w.Processed() >= w.maxJobs {
			return nil
		}
	}
}

// poll asks each queue in order for an envelope. The first queue that
// yields one wins the cycle. A pop error is logged and treated like an
// empty queue so that a transient storage problem never kills the
// loop.
func (w *Worker) poll(ctx context.Context) *Envelope {
	for _, queue := range w.queues {
		env, err := w.m.Pop(ctx, queue)
		if err != nil {
			w.logger.Printf("queuekit: pop from queue %q failed: %v", queue, err)
			w.testPopError() // testing hook
			continue
		}
		if env != nil {
			return env
		}
	}
	return nil
}

// process executes one envelope and reports the outcome back to the
// driver.
func (w *Worker) process(ctx context.Context, env *Envelope) {
	job := env.Job

	t, err := w.reg.Lookup(job.Type)
	if err != nil {
		// No handler means no retry can help; count a permanent
		// failure and drop the envelope (Pop already removed it).
		w.logger.Printf("queuekit: job %s dropped: %v", job.ID, err)
		w.incrFailed()
		w.testJobFailed() // testing hook
		return
	}

	w.testJobStarted() // testing hook

	err = w.execute(ctx, t, job)
	if err == nil {
		if cerr := w.m.Complete(ctx, env); cerr != nil {
			w.logger.Printf("queuekit: complete job %s: %v", job.ID, cerr)
		}
		w.incrProcessed()
		w.testJobSucceeded() // testing hook
		return
	}

	w.logger.Printf("queuekit: job %s (type %s) failed on attempt %d: %v", job.ID, job.Type, job.Attempts+1, err)

	res, ferr := w.m.Fail(ctx, env, err)
	if ferr != nil {
		w.logger.Printf("queuekit: record failure of job %s: %v", job.ID, ferr)
		w.incrFailed()
		w.testJobFailed() // testing hook
		return
	}
	if res.Retrying {
		w.testJobRetried() // testing hook
		return
	}

	w.incrFailed()
	w.testJobFailed() // testing hook
	if t.OnPermanentFailure != nil {
		w.invokeFailureHook(t, job, err)
	}
}

// execute runs the handler raced against the job's timeout. A timeout
// counts as a failed attempt, exactly like a returned error. Panics in
// the handler are recovered into errors.
func (w *Worker) execute(ctx context.Context, t *JobType, job *Job) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		errc <- t.Handle(ctx, job.Payload)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("job timed out after %v", timeout)
	}
}

// invokeFailureHook calls OnPermanentFailure, swallowing anything the
// hook itself raises; the hook must never crash the loop.
func (w *Worker) invokeFailureHook(t *JobType, job *Job, jobErr error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Printf("queuekit: permanent-failure hook for job %s panicked: %v", job.ID, r)
		}
	}()
	t.OnPermanentFailure(job.Payload, jobErr)
}

// Stop signals the poll loop to exit after the current job. It is safe
// to call from a signal handler and from multiple goroutines; the
// first call wins.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopc)
	})
}

// State returns the current worker state: WorkerIdle, WorkerRunning,
// or WorkerStopped.
func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Processed returns the number of successfully completed jobs.
func (w *Worker) Processed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed
}

// Failed returns the number of permanently failed jobs. Attempts that
// were retried do not count.
func (w *Worker) Failed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *Worker) incrProcessed() {
	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
}

func (w *Worker) incrFailed() {
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
}
