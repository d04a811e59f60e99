// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

// Package queuekit implements a background job queue with delayed
// execution, priorities, and bounded retries with exponential backoff.
//
// Applications describe their deferred work as a JobType: a named
// handler function plus static policy (retry budget, retry delay,
// queue name, priority, timeout). Dispatching a payload through a
// Manager persists an envelope in the named queue; it never executes
// the job inline.
//
// The Manager owns one Driver per queue name. Drivers implement the
// storage side of a queue: push, pop, fail/retry, complete, size,
// clear, and stats. An in-memory driver ships in this package; the
// "mysql" and "mongodb" packages provide durable backends that can be
// shared by several worker processes. For shared backends, Pop is
// atomic: selecting the winning envelope and removing it from the
// visible set happen as one indivisible operation, so two workers can
// never execute the same envelope.
//
// A Worker polls a fixed, prioritized list of queue names, executes
// one job at a time under the job's timeout, and delegates failures
// back to the driver. A failed job is re-enqueued with exponentially
// growing delay until its retry budget is exhausted; the terminal
// failure invokes the JobType's OnPermanentFailure hook exactly once.
// Stop is cooperative: the worker finishes the job in flight, then
// exits its loop.
//
// Envelopes are invisible to Pop while their availability time lies in
// the future. Queue statistics therefore distinguish available from
// delayed envelopes; size is always the sum of both.
package queuekit
