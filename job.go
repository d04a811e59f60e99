// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"context"
	"time"
)

// Defaults for the static policy of a JobType. They apply when the
// corresponding option is not given to NewJobType.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 60 * time.Second
	DefaultQueue      = "default"
	DefaultTimeout    = 5 * time.Minute
)

// Payload carries the data passed to a job's handler. It is opaque to
// the scheduler and must be JSON-serializable for durable drivers.
type Payload map[string]interface{}

// Handler is the unit of work for a job type. Returning a non-nil
// error marks the attempt as failed; the driver's retry policy decides
// what happens next. The context is cancelled when the job's timeout
// expires or the worker shuts down.
type Handler func(ctx context.Context, payload Payload) error

// JobType is the static description of a kind of deferred work: a
// stable name, the handler to invoke, and the retry/priority/timeout
// policy applied to every job dispatched from it. Create one via
// NewJobType and register it with a Registry.
type JobType struct {
	// Name identifies the type; the worker resolves handlers by it.
	Name string

	// Handle executes one job. Required.
	Handle Handler

	// OnPermanentFailure, if non-nil, is invoked exactly once when a
	// job of this type has exhausted its retry budget. It is never
	// called for an attempt that will be retried.
	OnPermanentFailure func(payload Payload, err error)

	MaxRetries int
	RetryDelay time.Duration
	Queue      string
	Priority   int
	Timeout    time.Duration
}

// JobTypeOption is the signature of an options provider for NewJobType.
type JobTypeOption func(*JobType)

// NewJobType creates a job type with the given name and handler.
// Policy defaults to DefaultMaxRetries, DefaultRetryDelay,
// DefaultQueue, priority 0, and DefaultTimeout; pass options to
// override.
func NewJobType(name string, handler Handler, options ...JobTypeOption) *JobType {
	t := &JobType{
		Name:       name,
		Handle:     handler,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Queue:      DefaultQueue,
		Timeout:    DefaultTimeout,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// SetMaxRetries sets the number of retries after the initial attempt.
// Zero disables retrying.
func SetMaxRetries(n int) JobTypeOption {
	return func(t *JobType) {
		if n >= 0 {
			t.MaxRetries = n
		}
	}
}

// SetRetryDelay sets the base delay for the exponential backoff
// between retries.
func SetRetryDelay(d time.Duration) JobTypeOption {
	return func(t *JobType) {
		t.RetryDelay = d
	}
}

// SetQueue sets the queue jobs of this type are dispatched to.
func SetQueue(name string) JobTypeOption {
	return func(t *JobType) {
		if name != "" {
			t.Queue = name
		}
	}
}

// SetPriority sets the default priority. Higher values are executed
// first.
func SetPriority(p int) JobTypeOption {
	return func(t *JobType) {
		t.Priority = p
	}
}

// SetTimeout bounds the execution time of a single attempt.
func SetTimeout(d time.Duration) JobTypeOption {
	return func(t *JobType) {
		if d > 0 {
			t.Timeout = d
		}
	}
}

// SetPermanentFailureHook installs the hook invoked after the retry
// budget is exhausted.
func SetPermanentFailureHook(fn func(payload Payload, err error)) JobTypeOption {
	return func(t *JobType) {
		t.OnPermanentFailure = fn
	}
}

// Job is a dispatched instance of a JobType: the payload plus a copy
// of the type's policy at dispatch time. Attempts counts executions
// already made; it never exceeds MaxRetries+1.
type Job struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Payload    Payload       `json:"payload,omitempty"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Queue      string        `json:"queue"`
	Priority   int           `json:"priority"`
	Timeout    time.Duration `json:"timeout"`
	Attempts   int           `json:"attempts"`
}

// newJob materializes a Job from the type's static policy.
func (t *JobType) newJob(payload Payload) *Job {
	return &Job{
		Type:       t.Name,
		Payload:    payload,
		MaxRetries: t.MaxRetries,
		RetryDelay: t.RetryDelay,
		Queue:      t.Queue,
		Priority:   t.Priority,
		Timeout:    t.Timeout,
	}
}

// -- Dispatch options --

type dispatchOptions struct {
	delay    time.Duration
	priority *int
	queue    string
}

// DispatchOption overrides parts of a job type's policy for a single
// dispatch.
type DispatchOption func(*dispatchOptions)

// WithDelay makes the job invisible to Pop until the delay elapsed.
func WithDelay(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithPriority overrides the job type's priority for this dispatch.
func WithPriority(p int) DispatchOption {
	return func(o *dispatchOptions) {
		o.priority = &p
	}
}

// WithQueue routes this dispatch to a different queue.
func WithQueue(name string) DispatchOption {
	return func(o *dispatchOptions) {
		if name != "" {
			o.queue = name
		}
	}
}
