// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"context"
	"sync"
	"time"
)

// InMemoryDriver is a process-local Driver implementation backed by a
// mutex-guarded slice. It is the default backend and is meant for
// tests and single-process deployments; envelopes do not survive a
// restart.
type InMemoryDriver struct {
	queue   string
	backoff BackoffFunc

	mu        sync.Mutex
	nextID    int64
	envelopes []*Envelope

	nowFn func() time.Time // testing hook
}

// InMemoryDriverOption is an options provider for InMemoryDriver.
type InMemoryDriverOption func(*InMemoryDriver)

// NewInMemoryDriver creates an in-memory driver for the given queue.
func NewInMemoryDriver(queue string, options ...InMemoryDriverOption) *InMemoryDriver {
	d := &InMemoryDriver{
		queue:   queue,
		backoff: ExponentialBackoff,
		nowFn:   time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// SetInMemoryBackoffFunc overrides the retry backoff function.
func SetInMemoryBackoffFunc(fn BackoffFunc) InMemoryDriverOption {
	return func(d *InMemoryDriver) {
		if fn != nil {
			d.backoff = fn
		}
	}
}

// Connect implements the Driver interface. There is nothing to set up.
func (d *InMemoryDriver) Connect(ctx context.Context) error {
	return nil
}

// Disconnect implements the Driver interface.
func (d *InMemoryDriver) Disconnect(ctx context.Context) error {
	return nil
}

// Push stores an envelope for the job, invisible for the given delay.
func (d *InMemoryDriver) Push(ctx context.Context, job *Job, delay time.Duration) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	d.nextID++
	env := &Envelope{
		ID:          d.nextID,
		Queue:       d.queue,
		Job:         job,
		Priority:    job.Priority,
		AvailableAt: now.Add(delay),
		CreatedAt:   now,
	}
	d.envelopes = append(d.envelopes, env)
	return env.ID, nil
}

// Pop removes and returns the next eligible envelope, or (nil, nil) if
// none is available yet. Selection and removal happen under one lock,
// so concurrent callers see exactly one winner per envelope.
func (d *InMemoryDriver) Pop(ctx context.Context) (*Envelope, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	best := -1
	for i, env := range d.envelopes {
		if !env.Available(now) {
			continue
		}
		if best < 0 || popBefore(env, d.envelopes[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}
	env := d.envelopes[best]
	d.envelopes = append(d.envelopes[:best], d.envelopes[best+1:]...)
	return env, nil
}

// popBefore reports whether a should be popped before b:
// priority desc, then availability asc, then enqueue order.
func popBefore(a, b *Envelope) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	return a.ID < b.ID
}

// Fail increments the job's attempt counter and re-enqueues a fresh
// envelope with backoff while the retry budget lasts.
func (d *InMemoryDriver) Fail(ctx context.Context, env *Envelope, jobErr error) (FailResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job := env.Job
	job.Attempts++
	if job.Attempts > job.MaxRetries {
		return FailResult{Retrying: false}, nil
	}

	delay := d.backoff(job.RetryDelay, job.Attempts)
	now := d.nowFn()
	d.nextID++
	retry := &Envelope{
		ID:          d.nextID,
		Queue:       d.queue,
		Job:         job,
		Priority:    env.Priority,
		AvailableAt: now.Add(delay),
		CreatedAt:   env.CreatedAt,
		LastError:   jobErr.Error(),
	}
	d.envelopes = append(d.envelopes, retry)
	return FailResult{Retrying: true, Delay: delay}, nil
}

// Complete acknowledges success. Pop already removed the envelope, so
// there is nothing left to do.
func (d *InMemoryDriver) Complete(ctx context.Context, env *Envelope) error {
	return nil
}

// Size returns the number of stored envelopes.
func (d *InMemoryDriver) Size(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envelopes), nil
}

// Clear removes all envelopes and returns the removed count.
func (d *InMemoryDriver) Clear(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.envelopes)
	d.envelopes = nil
	return n, nil
}

// Stats returns the queue statistics.
func (d *InMemoryDriver) Stats(ctx context.Context) (*QueueStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	stats := &QueueStats{Name: d.queue, Size: len(d.envelopes)}
	for _, env := range d.envelopes {
		if env.Available(now) {
			stats.Available++
		} else {
			stats.Delayed++
		}
	}
	return stats, nil
}
