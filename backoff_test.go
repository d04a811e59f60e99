// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		Base     time.Duration
		Attempts int
		Expected time.Duration
	}{
		{time.Second, 0, 0},
		{time.Second, 1, 1 * time.Second},
		{time.Second, 2, 2 * time.Second},
		{time.Second, 3, 4 * time.Second},
		{time.Second, 4, 8 * time.Second},
		{60 * time.Second, 1, 60 * time.Second},
		{60 * time.Second, 2, 120 * time.Second},
		{60 * time.Second, 5, 960 * time.Second},
	}

	for _, test := range tests {
		if want, have := test.Expected, ExponentialBackoff(test.Base, test.Attempts); want != have {
			t.Fatalf("ExponentialBackoff(%v, %d): want %v, have %v", test.Base, test.Attempts, want, have)
		}
	}
}
