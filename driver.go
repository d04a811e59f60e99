// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownDriver is returned when configuration names a driver
	// type no factory exists for.
	ErrUnknownDriver = errors.New("queuekit: unknown driver type")

	// ErrUnknownJobType is returned by Registry.Lookup for a type name
	// that was never registered.
	ErrUnknownJobType = errors.New("queuekit: job type not registered")
)

// FailResult is the driver's verdict on a failed attempt.
type FailResult struct {
	// Retrying is true if the driver re-enqueued the job.
	Retrying bool `json:"retrying"`

	// Delay is the backoff applied to the re-enqueued envelope. Zero
	// when Retrying is false.
	Delay time.Duration `json:"delay,omitempty"`
}

// Driver implements the storage operations of one named queue.
//
// Implementations must never silently drop a pushed job, and Pop must
// be atomic: for a backend shared by several worker processes, the
// selection of the winning envelope and its removal from the visible
// set have to happen as one indivisible operation. Two concurrent Pop
// callers racing for a single eligible envelope must see exactly one
// winner; the loser gets (nil, nil).
type Driver interface {
	// Connect prepares the backend for first use, e.g. creating the
	// underlying table or collection if absent. It is safe to call on
	// an already prepared backend.
	Connect(ctx context.Context) error

	// Disconnect releases the backend resources.
	Disconnect(ctx context.Context) error

	// Push persists an envelope for the job, invisible to Pop for the
	// given delay, and returns the assigned envelope id.
	Push(ctx context.Context, job *Job, delay time.Duration) (int64, error)

	// Pop removes and returns the next eligible envelope: among the
	// envelopes whose availability time has passed, the one with the
	// highest priority, ties broken by earliest availability. It
	// returns (nil, nil) when no envelope is eligible.
	Pop(ctx context.Context) (*Envelope, error)

	// Fail records a failed attempt. It increments the job's attempt
	// counter and, while the retry budget lasts, re-enqueues a fresh
	// envelope delayed by exponential backoff. A FailResult with
	// Retrying == false is the terminal failure signal.
	Fail(ctx context.Context, env *Envelope, jobErr error) (FailResult, error)

	// Complete acknowledges successful execution. Since Pop already
	// removed the envelope from the visible set, drivers may implement
	// this as a no-op; it exists so backends that track history have a
	// hook.
	Complete(ctx context.Context, env *Envelope) error

	// Size returns the number of stored envelopes, available plus
	// delayed.
	Size(ctx context.Context) (int, error)

	// Clear removes all envelopes and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Stats returns the queue statistics. Size == Available + Delayed
	// always holds.
	Stats(ctx context.Context) (*QueueStats, error)
}
