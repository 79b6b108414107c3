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

// Package taskrun is the agent running inside a job. It reports the try
// to the server as active, runs the work and reports the outcome.
package taskrun

import (
	"context"
	"time"

	"github.com/pingcap/jobflow/pkg/logutil"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/server/transport"
	"go.uber.org/zap"
)

// Task is handed to the work of a job.
type Task struct {
	*client.Scope
	Identity *Identity
	Logger   *zap.Logger
}

// Runner runs work for one identity.
type Runner struct {
	id     *Identity
	cli    *client.Client
	lg     *zap.Logger
	scopes []client.ScopeOption
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	transport  client.Transport
	clientOpts []client.Option
	scopeOpts  []client.ScopeOption
}

// WithTransport replaces the HTTP transport to the server.
func WithTransport(t client.Transport) RunnerOption {
	return func(o *runnerOptions) { o.transport = t }
}

// WithClientOptions passes options to the server client.
func WithClientOptions(opts ...client.Option) RunnerOption {
	return func(o *runnerOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithScopeOptions passes options to the client scope.
func WithScopeOptions(opts ...client.ScopeOption) RunnerOption {
	return func(o *runnerOptions) { o.scopeOpts = append(o.scopeOpts, opts...) }
}

// NewRunner creates a runner for id.
func NewRunner(id *Identity, opts ...RunnerOption) (*Runner, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	o := &runnerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	session := id.Session()
	if o.transport == nil {
		o.transport = transport.New(session)
	}
	cli, err := client.New(session, o.transport, o.clientOpts...)
	if err != nil {
		return nil, err
	}
	return &Runner{
		id:     id,
		cli:    cli,
		lg:     logutil.NewLogger4Task(id.Name, id.TryNo),
		scopes: o.scopeOpts,
	}, nil
}

// Run registers the try as active, runs body and reports complete when it
// returns nil, abort otherwise. A signal aborts the try and is raised
// again once the server knows.
func (r *Runner) Run(ctx context.Context, body func(ctx context.Context, t *Task) error) error {
	start := time.Now()
	r.lg.Info("task started",
		zap.String("submissionID", r.id.SubmissionID),
		zap.String("remoteID", r.id.RemoteID))
	err := client.RunInScope(ctx, r.cli, r.id.Child(), func(ctx context.Context, s *client.Scope) error {
		return body(ctx, &Task{Scope: s, Identity: r.id, Logger: r.lg})
	}, r.scopes...)
	if err != nil {
		r.lg.Error("task failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	r.lg.Info("task completed", zap.Duration("duration", time.Since(start)))
	return nil
}
