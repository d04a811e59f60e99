// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import "time"

// BackoffFunc returns the delay before the next retry of a failed job.
// base is the job's configured retry delay, attempts the number of
// executions already made (so the first failure passes 1). Drivers use
// ExponentialBackoff unless configured otherwise.
type BackoffFunc func(base time.Duration, attempts int) time.Duration

// ExponentialBackoff doubles the base delay with every failed attempt:
// the k-th failure waits base * 2^(k-1).
func ExponentialBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	if attempts > 32 {
		attempts = 32
	}
	return base * time.Duration(int64(1)<<uint(attempts-1))
}
