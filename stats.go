// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

// QueueStats describes the current state of one queue. Size is always
// Available + Delayed.
type QueueStats struct {
	Name      string `json:"name"`      // queue name
	Size      int    `json:"size"`      // total number of stored envelopes
	Available int    `json:"available"` // envelopes eligible for Pop now
	Delayed   int    `json:"delayed"`   // envelopes whose availability lies in the future
}
