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

package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/clock"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/logutil"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ScopeSignals abort a running scope.
var ScopeSignals = []os.Signal{
	unix.SIGINT, unix.SIGHUP, unix.SIGQUIT, unix.SIGTERM,
	unix.SIGUSR1, unix.SIGUSR2, unix.SIGXCPU, unix.SIGPIPE,
}

// signalHooks hold the process wide signal functions a scope uses.
type signalHooks struct {
	notify  func(c chan<- os.Signal, sig ...os.Signal)
	stop    func(c chan<- os.Signal)
	reraise func(sig os.Signal) error
}

var processSignals = signalHooks{
	notify:  signal.Notify,
	stop:    signal.Stop,
	reraise: processRaiser.reraise,
}

// runtimeKilledSignals are the scope signals the Go runtime ends the
// process on once they are no longer notified. It drops the others, so
// for those the process exits with status 128+signo itself.
var runtimeKilledSignals = map[syscall.Signal]bool{
	unix.SIGINT: true, unix.SIGHUP: true, unix.SIGQUIT: true, unix.SIGTERM: true,
}

type raiser struct {
	kill func(pid int, sig syscall.Signal) error
	exit func(code int)
}

var processRaiser = raiser{kill: unix.Kill, exit: os.Exit}

// reraise ends the process the way sig would have without a handler.
func (r raiser) reraise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return errors.Errorf("can not re-raise signal %v", sig)
	}
	if !runtimeKilledSignals[s] {
		r.exit(128 + int(s))
		return nil
	}
	signal.Reset(sig)
	return errors.Trace(r.kill(os.Getpid(), s))
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

func withSignalHooks(h signalHooks) ScopeOption {
	return func(s *Scope) { s.hooks = h }
}

// Scope is the period a try of a task is registered active with the
// server. It is created by RunInScope.
type Scope struct {
	client *Client
	child  Child
	ctx    context.Context
	cancel context.CancelFunc
	hooks  signalHooks
	lg     *zap.Logger

	abortOnce sync.Once
	abortErr  error
	signal    atomic.Value
}

// Context is cancelled when the scope receives a signal.
func (s *Scope) Context() context.Context { return s.ctx }

// Client returns the connected client of the scope.
func (s *Scope) Client() *Client { return s.client }

// Child returns the identity registered by the scope.
func (s *Scope) Child() Child { return s.child }

// AtTime blocks until t, it returns early with an error when the scope
// is aborted by a signal.
func (s *Scope) AtTime(t time.Time) error {
	return AtTime(s.ctx, s.client.Clock(), t)
}

// AtTime blocks on a timer of c until t is reached. It returns the error
// of ctx when ctx is done first.
func AtTime(ctx context.Context, c clock.Clock, t time.Time) error {
	return errors.Trace(clock.WaitUntil(ctx, c, t))
}

// abort sends the abort command at most once per scope. It is not bound
// to the scope context, which is already cancelled on the signal path.
func (s *Scope) abort(ctx context.Context, reason string) error {
	s.abortOnce.Do(func() {
		s.lg.Info("abort task", zap.String("reason", reason))
		s.abortErr = s.client.Abort(context.WithoutCancel(ctx), reason)
		if s.abortErr != nil {
			s.lg.Error("abort task failed", zap.Error(s.abortErr))
		}
	})
	return s.abortErr
}

func (s *Scope) onSignal(ctx context.Context, sig os.Signal, ch chan<- os.Signal) {
	s.signal.Store(sig)
	signalCounter.WithLabelValues(sig.String()).Inc()
	s.lg.Warn("task interrupted by signal", zap.Stringer("signal", sig))
	s.cancel()
	_ = s.abort(ctx, fmt.Sprintf("Signal handler called with signal %s", sig))
	s.hooks.stop(ch)
	if err := s.hooks.reraise(sig); err != nil {
		s.lg.Warn("re-raise signal failed", zap.Stringer("signal", sig), zap.Error(err))
	}
}

// RunInScope registers child as active and runs body. The client is
// connected first when it is not. Exactly one of complete or abort is
// sent afterwards: complete when body returns nil, abort when it returns
// an error, panics or the process receives one of ScopeSignals. On a
// signal the abort is sent from the handler, then the signal is re-raised
// with its default disposition, or the process exits with 128+signo for
// signals the Go runtime ignores. A panic is re-raised after the abort.
func RunInScope(
	ctx context.Context, c *Client, child Child,
	body func(ctx context.Context, s *Scope) error, opts ...ScopeOption,
) (err error) {
	lg := logutil.NewLogger4Task(child.Path, child.TryNo)
	if c.State() == StateDisconnected {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			if cerr := c.Close(); cerr != nil {
				lg.Warn("close client failed", zap.Error(cerr))
			}
		}()
	}
	lg.Info("calling init", zap.String("rid", child.RemoteID))
	if err := c.Init(ctx, child); err != nil {
		return err
	}

	s := &Scope{client: c, child: child, hooks: processSignals, lg: lg}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	handlerDone := make(chan struct{})
	s.hooks.notify(sigCh, ScopeSignals...)
	go func() {
		defer close(handlerDone)
		select {
		case sig := <-sigCh:
			s.onSignal(ctx, sig, sigCh)
		case <-done:
		}
	}()

	var (
		panicked  bool
		recovered interface{}
	)
	bodyErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicked, recovered = true, r
				err = errors.Errorf("panic: %v", r)
			}
		}()
		return body(s.ctx, s)
	}()

	close(done)
	<-handlerDone
	s.hooks.stop(sigCh)

	if sig, ok := s.signal.Load().(os.Signal); ok {
		return multierr.Combine(bodyErr,
			cerrors.ErrSignalReceived.GenWithStackByArgs(sig), s.abortErr)
	}
	if bodyErr != nil {
		lg.Error("task failed", zap.Error(bodyErr))
		abortErr := s.abort(ctx, fmt.Sprintf("Aborted with error: %s", bodyErr))
		if panicked {
			panic(recovered)
		}
		return multierr.Append(bodyErr, abortErr)
	}
	lg.Info("calling complete")
	return c.Complete(ctx)
}
