// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import "time"

// Envelope is the stored record wrapping a job: the serialized job
// state plus the scheduling metadata a driver needs to pick the next
// eligible candidate.
//
// An envelope is created on push, removed by Pop, and — when the job
// failed but still has retry budget — functionally replaced by a fresh
// envelope with bumped Attempts and a later AvailableAt. Fail and
// Complete never toggle visibility on an existing row.
type Envelope struct {
	// ID is assigned by the driver and distinguishes enqueue order
	// within one queue.
	ID int64 `json:"id"`

	Queue    string `json:"queue"`
	Job      *Job   `json:"job"`
	Priority int    `json:"priority"`

	// AvailableAt is the instant the envelope becomes eligible for
	// Pop. Before that it counts as delayed.
	AvailableAt time.Time `json:"available_at"`

	CreatedAt time.Time `json:"created_at"`

	// LastError holds the message of the most recent failed attempt,
	// empty for never-failed envelopes.
	LastError string `json:"last_error,omitempty"`
}

// Available reports whether the envelope is eligible for Pop at t.
func (e *Envelope) Available(t time.Time) bool {
	return !e.AvailableAt.After(t)
}
