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
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/clock"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/logutil"
	"github.com/pingcap/jobflow/pkg/retry"
	"github.com/pingcap/jobflow/pkg/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the connection state of a Client.
type State int32

// Client states. The only legal path is
// disconnected -> connecting -> connected -> closing -> disconnected, a
// failed connect falls back from connecting to disconnected.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for scheduled waits.
func WithClock(c clock.Clock) Option {
	return func(cli *Client) {
		cli.clock = c
	}
}

// WithIDGenerator sets the generator of the request ids.
func WithIDGenerator(g uuid.Generator) Option {
	return func(cli *Client) {
		cli.ids = g
	}
}

// Client sends commands to one workflow server. Every command is retried
// following the retry policy of the session.
type Client struct {
	session   Session
	transport Transport
	clock     clock.Clock
	ids       uuid.Generator
	state     atomic.Int32
	child     atomic.Pointer[Child]
	lg        *zap.Logger
}

// New creates a disconnected client.
func New(session *Session, transport Transport, opts ...Option) (*Client, error) {
	if session == nil || transport == nil {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("client needs a session and a transport")
	}
	s := *session
	s.Adjust()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		session:   s,
		transport: transport,
		clock:     clock.New(),
		ids:       uuid.NewGenerator(),
		lg:        logutil.NewLogger4Server(s.Addr()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns a copy of the session of c.
func (c *Client) Session() Session { return c.session }

// Clock returns the clock of c.
func (c *Client) Clock() clock.Clock { return c.clock }

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) transit(from, to State) error {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return cerrors.ErrInvalidStateTransition.GenWithStackByArgs(c.State(), to)
	}
	c.lg.Debug("client state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// Connect checks that the server answers and moves the client to the
// connected state.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transit(StateDisconnected, StateConnecting); err != nil {
		return err
	}
	if _, err := c.do(ctx, &Request{Command: CmdPing}); err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}
	return c.transit(StateConnecting, StateConnected)
}

// Close releases the transport. Closing a client that is not connected is
// an invalid transition.
func (c *Client) Close() error {
	if err := c.transit(StateConnected, StateClosing); err != nil {
		return err
	}
	err := c.transport.Close()
	return multierr.Append(errors.Trace(err), c.transit(StateClosing, StateDisconnected))
}

// send runs req on a connected client.
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	if st := c.State(); st != StateConnected {
		return nil, cerrors.ErrClientNotConnected.GenWithStackByArgs(st)
	}
	return c.do(ctx, req)
}

// do sends req with retries. Rejections of the server are returned at
// once. Running out of attempts or of the total time budget is a server
// communication error.
func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = c.ids.NewString()
	}
	start := time.Now()
	var (
		resp     *Response
		attempts int
	)
	err := retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		r, err := c.transport.Send(ctx, req)
		if err != nil {
			return err
		}
		if !r.OK {
			return cerrors.ErrServerRejected.GenWithStackByArgs(req.Command, r.Error)
		}
		resp = r
		return nil
	},
		retry.WithMaxTries(int64(c.session.Retries)),
		retry.WithBackoffBaseDelay(c.session.RetryBase.Milliseconds()),
		retry.WithBackoffMaxDelay(c.session.Timeout.Milliseconds()),
		retry.WithAttemptTimeout(c.session.Timeout),
		retry.WithTotalRetryDuration(c.session.TotalTimeout),
		retry.WithIsRetryableErr(cerrors.IsRetryableServerErr),
		retry.WithOnRetry(func(attempt int, err error, next time.Duration) {
			commandRetryCounter.WithLabelValues(req.Command).Inc()
			c.lg.Warn("server command failed, retrying",
				zap.String("command", req.Command), zap.String("request-id", req.ID),
				zap.Int("attempt", attempt), zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	commandDuration.WithLabelValues(req.Command).Observe(time.Since(start).Seconds())
	if err == nil {
		commandCounter.WithLabelValues(req.Command, "ok").Inc()
		return resp, nil
	}

	switch {
	case cerrors.Is(err, cerrors.ErrServerRejected):
		commandCounter.WithLabelValues(req.Command, "rejected").Inc()
	case ctx.Err() != nil:
		commandCounter.WithLabelValues(req.Command, "canceled").Inc()
	default:
		commandCounter.WithLabelValues(req.Command, "failed").Inc()
		err = cerrors.ErrServerCommunication.Wrap(err).GenWithStackByArgs(c.session.Addr(), attempts, req.Command)
	}
	c.lg.Warn("server command failed",
		zap.String("command", req.Command), zap.String("request-id", req.ID),
		zap.Int("attempts", attempts), logutil.ZapErrorFilter(err, context.Canceled))
	return nil, err
}
