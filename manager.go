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

	"github.com/google/uuid"
)

func nop() {}

// DriverFactory constructs the Driver for a queue name. The Manager
// calls it at most once per name.
type DriverFactory func(queue string) (Driver, error)

// Manager routes queue operations to the Driver owning each named
// queue. Drivers are constructed lazily on first access and kept for
// the lifetime of the manager. Create a new manager via New and pass
// it down explicitly; there is deliberately no process-wide handle.
type Manager struct {
	logger  Logger
	factory DriverFactory

	mu      sync.Mutex // guards the following block
	drivers map[string]Driver
	closed  bool

	testQueueOpened func() // testing hook
}

// New creates a new manager. By default queues live in memory; use
// SetDriverFactory to plug in a durable backend.
func New(options ...ManagerOption) *Manager {
	m := &Manager{
		logger: stdLogger{},
		factory: func(queue string) (Driver, error) {
			return NewInMemoryDriver(queue), nil
		},
		drivers:         make(map[string]Driver),
		testQueueOpened: nop,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// -- Configuration --

// ManagerOption is the signature of an options provider.
type ManagerOption func(*Manager)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// SetDriverFactory specifies how the manager constructs the driver for
// a queue name.
func SetDriverFactory(factory DriverFactory) ManagerOption {
	return func(m *Manager) {
		if factory != nil {
			m.factory = factory
		}
	}
}

// getQueue returns the driver for the named queue, constructing and
// connecting it on first access. Concurrent calls for the same name
// resolve to the same instance.
func (m *Manager) getQueue(ctx context.Context, name string) (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("queuekit: manager is closed")
	}
	if d, found := m.drivers[name]; found {
		return d, nil
	}
	d, err := m.factory(name)
	if err != nil {
		return nil, err
	}
	if err := d.Connect(ctx); err != nil {
		return nil, fmt.Errorf("queuekit: connect queue %q: %w", name, err)
	}
	m.drivers[name] = d
	m.testQueueOpened() // testing hook
	return d, nil
}

// -- Dispatch --

// Dispatch pushes one job of the given type with the payload. The
// job's policy can be overridden per call with WithDelay, WithPriority,
// and WithQueue. Dispatch returns as soon as the envelope is stored;
// it never executes the job.
func (m *Manager) Dispatch(ctx context.Context, t *JobType, payload Payload, options ...DispatchOption) (*Job, error) {
	if t == nil || t.Name == "" {
		return nil, errors.New("queuekit: no job type specified")
	}
	var opts dispatchOptions
	for _, opt := range options {
		opt(&opts)
	}

	job := t.newJob(payload)
	job.ID = uuid.NewString()
	if opts.queue != "" {
		job.Queue = opts.queue
	}
	if opts.priority != nil {
		job.Priority = *opts.priority
	}

	d, err := m.getQueue(ctx, job.Queue)
	if err != nil {
		return nil, err
	}
	if _, err := d.Push(ctx, job, opts.delay); err != nil {
		return nil, err
	}
	return job, nil
}

// DispatchAfter is shorthand for Dispatch with WithDelay(delay).
func (m *Manager) DispatchAfter(ctx context.Context, t *JobType, delay time.Duration, payload Payload) (*Job, error) {
	return m.Dispatch(ctx, t, payload, WithDelay(delay))
}

// -- Routing wrappers --

// Pop removes and returns the next eligible envelope of the named
// queue, or (nil, nil) when the queue has none.
func (m *Manager) Pop(ctx context.Context, queue string) (*Envelope, error) {
	d, err := m.getQueue(ctx, queue)
	if err != nil {
		return nil, err
	}
	return d.Pop(ctx)
}

// Fail reports a failed attempt for the envelope to its queue's driver.
func (m *Manager) Fail(ctx context.Context, env *Envelope, jobErr error) (FailResult, error) {
	d, err := m.getQueue(ctx, env.Queue)
	if err != nil {
		return FailResult{}, err
	}
	return d.Fail(ctx, env, jobErr)
}

// Complete acknowledges successful execution of the envelope.
func (m *Manager) Complete(ctx context.Context, env *Envelope) error {
	d, err := m.getQueue(ctx, env.Queue)
	if err != nil {
		return err
	}
	return d.Complete(ctx, env)
}

// Size returns the number of envelopes in the named queue.
func (m *Manager) Size(ctx context.Context, queue string) (int, error) {
	d, err := m.getQueue(ctx, queue)
	if err != nil {
		return 0, err
	}
	return d.Size(ctx)
}

// Clear removes all envelopes from the named queue and returns the
// removed count.
func (m *Manager) Clear(ctx context.Context, queue string) (int, error) {
	d, err := m.getQueue(ctx, queue)
	if err != nil {
		return 0, err
	}
	return d.Clear(ctx)
}

// Stats returns the statistics of the named queue.
func (m *Manager) Stats(ctx context.Context, queue string) (*QueueStats, error) {
	d, err := m.getQueue(ctx, queue)
	if err != nil {
		return nil, err
	}
	return d.Stats(ctx)
}

// Close disconnects every driver and clears the registry. It is meant
// for process shutdown; the manager cannot be used afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	var firstErr error
	for name, d := range m.drivers {
		if err := d.Disconnect(ctx); err != nil {
			m.logger.Printf("queuekit: disconnect queue %q: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.drivers = make(map[string]Driver)
	m.closed = true
	return firstErr
}
