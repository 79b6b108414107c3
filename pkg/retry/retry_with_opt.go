// Copyright 2022 PingCAP, Inc.
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
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/clock"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
)

// Operation is the action that needs to be retried. The context passed in
// carries the per attempt deadline when one is configured.
type Operation func(ctx context.Context) error

// Do execute the specified function.
// By default, the maximum number of retries is 3, the initial delay is 10ms,
// and the maximum delay is 100ms.
// The returned error wraps ErrReachMaxTry once the tries or the total retry
// duration are used up. Errors rejected by the IsRetryableErr handler are
// returned as they are.
func Do(ctx context.Context, operation Operation, opts ...Option) error {
	retryOption := newRetryOptions()
	for _, opt := range opts {
		opt(retryOption)
	}
	return run(ctx, operation, retryOption)
}

func run(ctx context.Context, op Operation, retryOption *retryOptions) error {
	parent := ctx
	if retryOption.totalRetryDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, retryOption.totalRetryDuration)
		defer cancel()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryOption.backoffBase
	eb.MaxInterval = retryOption.backoffCap
	eb.MaxElapsedTime = 0
	eb.Clock = retryOption.clock
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, retryOption.maxTries-1), ctx)

	var (
		tries     int
		lastErr   error
		permanent bool
	)
	attempt := func() error {
		tries++
		if err := parent.Err(); err != nil {
			return backoff.Permanent(errors.Trace(err))
		}
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if retryOption.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, retryOption.attemptTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryOption.isRetryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		retryOption.onRetry(tries, err, next)
	}

	err := backoff.RetryNotifyWithTimer(attempt, b, notify, &clockTimer{clock: retryOption.clock})
	if err == nil {
		return nil
	}
	if perr := parent.Err(); perr != nil {
		return errors.Trace(perr)
	}
	if permanent || lastErr == nil {
		return err
	}
	return cerrors.ErrReachMaxTry.Wrap(lastErr).GenWithStackByArgs(tries, lastErr)
}

// clockTimer drives backoff sleeps from a clock.Clock so that tests can use
// a mocked clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
