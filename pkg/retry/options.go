// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"time"

	"github.com/pingcap/jobflow/pkg/clock"
)

const (
	// defaultBackoffBaseInMs is the initial duration, in Millisecond
	defaultBackoffBaseInMs = 10.0
	// defaultBackoffCapInMs is the max amount of duration, in Millisecond
	defaultBackoffCapInMs = 100.0
	defaultMaxTries       = 3
)

// Option ...
type Option func(*retryOptions)

// IsRetryableErr checks the error is safe to retry or not, eg. "context.Canceled" better not retry
type IsRetryableErr func(error) bool

// OnRetry is called before sleeping between two attempts.
type OnRetry func(attempt int, err error, next time.Duration)

// retryOptions ...
type retryOptions struct {
	maxTries           uint64
	backoffBase        time.Duration
	backoffCap         time.Duration
	totalRetryDuration time.Duration
	attemptTimeout     time.Duration
	isRetryable        IsRetryableErr
	onRetry            OnRetry
	clock              clock.Clock
}

func newRetryOptions() *retryOptions {
	return &retryOptions{
		maxTries:    defaultMaxTries,
		backoffBase: time.Duration(defaultBackoffBaseInMs) * time.Millisecond,
		backoffCap:  time.Duration(defaultBackoffCapInMs) * time.Millisecond,
		isRetryable: func(err error) bool { return true },
		onRetry:     func(int, error, time.Duration) {},
		clock:       clock.New(),
	}
}

// WithBackoffBaseDelay configures the initial delay
func WithBackoffBaseDelay(delayInMs int64) Option {
	return func(o *retryOptions) {
		if delayInMs > 0 {
			o.backoffBase = time.Duration(delayInMs) * time.Millisecond
		}
	}
}

// WithBackoffMaxDelay configures the maximum delay
func WithBackoffMaxDelay(delayInMs int64) Option {
	return func(o *retryOptions) {
		if delayInMs > 0 {
			o.backoffCap = time.Duration(delayInMs) * time.Millisecond
		}
	}
}

// WithMaxTries configures maximum tries
func WithMaxTries(tries int64) Option {
	return func(o *retryOptions) {
		if tries > 0 {
			o.maxTries = uint64(tries)
		}
	}
}

// WithTotalRetryDuration configures the global budget of all tries,
// zero means no limit.
func WithTotalRetryDuration(d time.Duration) Option {
	return func(o *retryOptions) {
		if d > 0 {
			o.totalRetryDuration = d
		}
	}
}

// WithAttemptTimeout bounds every single try with its own deadline.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *retryOptions) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithIsRetryableErr configures the error handler, if not set, retry by default
func WithIsRetryableErr(f func(error) bool) Option {
	return func(o *retryOptions) {
		if f != nil {
			o.isRetryable = f
		}
	}
}

// WithOnRetry registers a callback invoked after each failed try that will
// be retried.
func WithOnRetry(f OnRetry) Option {
	return func(o *retryOptions) {
		if f != nil {
			o.onRetry = f
		}
	}
}

// WithClock replaces the clock used for backoff sleeps, used by tests.
func WithClock(c clock.Clock) Option {
	return func(o *retryOptions) {
		if c != nil {
			o.clock = c
		}
	}
}
