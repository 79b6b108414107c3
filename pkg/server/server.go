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

// Package server drives a workflow server on behalf of the command line:
// starting it, loading suites and reporting submissions.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pingcap/jobflow/pkg/clock"
	"github.com/pingcap/jobflow/pkg/defs"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/logutil"
	"github.com/pingcap/jobflow/pkg/retry"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/pingcap/jobflow/pkg/suite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// DefaultStartCmd starts a server in the background. {port} is
	// replaced by the effective port of the session.
	DefaultStartCmd = "ecflow_start.sh -p {port}"

	// SubmissionIDVariable holds the backend job id of the running try.
	SubmissionIDVariable = "SUBMISSION_ID"

	defaultStartRetries   = 5
	defaultStartRetryBase = time.Second

	logTimeLayout = "15:04:05 02.01.2006"
)

// Config tunes a Server.
type Config struct {
	StartCmd       string        `toml:"start-cmd" json:"start-cmd"`
	LogFile        string        `toml:"log-file" json:"log-file"`
	StartRetries   int           `toml:"start-retries" json:"start-retries"`
	StartRetryBase time.Duration `toml:"start-retry-base" json:"start-retry-base"`
}

// Adjust fills the empty fields with default values.
func (c *Config) Adjust() {
	if c.StartCmd == "" {
		c.StartCmd = DefaultStartCmd
	}
	if c.StartRetries <= 0 {
		c.StartRetries = defaultStartRetries
	}
	if c.StartRetryBase <= 0 {
		c.StartRetryBase = defaultStartRetryBase
	}
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used to stamp log lines.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// Server is the facade over one workflow server.
type Server struct {
	cli    *client.Client
	cfg    Config
	runner submission.Runner
	clock  clock.Clock
	lg     *zap.Logger
}

var _ submission.ServerUpdater = (*Server)(nil)

// New creates a facade sending commands through cli and starting the
// server with runner.
func New(cli *client.Client, cfg *Config, runner submission.Runner, opts ...Option) (*Server, error) {
	if cli == nil || runner == nil {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("server facade needs a client and a runner")
	}
	s := &Server{
		cli:    cli,
		runner: runner,
		clock:  clock.New(),
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	s.cfg.Adjust()
	if _, err := s.startArgv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lg = logutil.NewLogger4Server(cli.Session().Addr())
	return s, nil
}

// Client returns the underlying client.
func (s *Server) Client() *client.Client { return s.cli }

func (s *Server) startArgv() ([]string, error) {
	port := strconv.Itoa(s.cli.Session().EffectivePort())
	argv, err := shellwords.Parse(strings.ReplaceAll(s.cfg.StartCmd, "{port}", port))
	if err != nil {
		return nil, cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(fmt.Sprintf("start command %q", s.cfg.StartCmd))
	}
	if len(argv) == 0 {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("empty start command")
	}
	return argv, nil
}

func (s *Server) ensureConnected(ctx context.Context) error {
	if s.cli.State() == client.StateConnected {
		return nil
	}
	return s.cli.Connect(ctx)
}

// StartServer makes sure the server answers. An unreachable server is
// started with the configured command and polled until it answers.
func (s *Server) StartServer(ctx context.Context) error {
	err := s.ensureConnected(ctx)
	if err == nil {
		return nil
	}
	if !cerrors.Is(err, cerrors.ErrServerCommunication) {
		return err
	}
	port := s.cli.Session().EffectivePort()
	s.lg.Info("workflow server unreachable, starting it", zap.Error(err))

	argv, err := s.startArgv()
	if err != nil {
		return err
	}
	res, err := s.runner.Run(ctx, argv)
	if err != nil {
		return cerrors.ErrStartServer.Wrap(err).GenWithStackByArgs(port, err.Error())
	}
	if res.ExitCode != 0 {
		return cerrors.ErrStartServer.GenWithStackByArgs(port,
			fmt.Sprintf("%s exited with %d: %s", argv[0], res.ExitCode, strings.TrimSpace(res.Stderr)))
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		return s.cli.Connect(ctx)
	},
		retry.WithMaxTries(int64(s.cfg.StartRetries)),
		retry.WithBackoffBaseDelay(s.cfg.StartRetryBase.Milliseconds()),
		retry.WithIsRetryableErr(func(err error) bool {
			return cerrors.Is(err, cerrors.ErrServerCommunication)
		}),
	)
	if err != nil {
		return cerrors.ErrStartServer.Wrap(err).GenWithStackByArgs(port, "server does not answer after start")
	}
	s.lg.Info("workflow server started")
	return nil
}

// Replace loads def at path, creating the node when needed. When the
// server refuses, the node is deleted and loaded again; a failure after
// a successful delete is an ErrReplace since the old definition is gone.
func (s *Server) Replace(ctx context.Context, path string, def *defs.Definition) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	text := def.String()
	err := s.cli.Replace(ctx, path, text, true)
	if err == nil {
		return nil
	}
	if cerrors.IsContextCanceledErr(err) {
		return err
	}
	s.lg.Warn("replace failed, deleting the node first", zap.String("path", path), zap.Error(err))
	if derr := s.cli.Delete(ctx, path); derr != nil {
		return multierr.Append(err, derr)
	}
	if err := s.cli.Replace(ctx, path, text, true); err != nil {
		return cerrors.ErrReplace.Wrap(err).GenWithStackByArgs(path, err.Error())
	}
	return nil
}

// StartSuite starts the server if needed, loads def as suite name and
// begins it when begin is set.
func (s *Server) StartSuite(ctx context.Context, name string, def *defs.Definition, begin bool) error {
	if def.Suite() != name {
		return cerrors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("definition holds suite %s, not %s", def.Suite(), name))
	}
	if err := s.StartServer(ctx); err != nil {
		return err
	}
	if err := s.Replace(ctx, "/"+name, def); err != nil {
		return err
	}
	if !begin {
		return nil
	}
	return s.cli.Begin(ctx, name)
}

// ForceComplete sets the node at path to complete.
func (s *Server) ForceComplete(ctx context.Context, path string) error {
	return s.forceState(ctx, path, suite.StateComplete)
}

// ForceAbort sets the node at path to aborted.
func (s *Server) ForceAbort(ctx context.Context, path string) error {
	return s.forceState(ctx, path, suite.StateAborted)
}

func (s *Server) forceState(ctx context.Context, path string, st suite.State) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return s.cli.ForceState(ctx, path, st)
}

// Requeue puts the node at path and everything below it back in the queue.
func (s *Server) Requeue(ctx context.Context, path string) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return s.cli.Requeue(ctx, path)
}

// UpdateSubmissionID stores the backend job id on the task at path.
func (s *Server) UpdateSubmissionID(ctx context.Context, path, id string) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return s.cli.Alter(ctx, path, client.AlterAdd, client.AlterKindVariable, SubmissionIDVariable, id)
}

// UpdateLog appends a time stamped line to the server log file. Nothing
// is written when no log file is configured.
func (s *Server) UpdateLog(text string) error {
	if s.cfg.LogFile == "" {
		return nil
	}
	line := fmt.Sprintf("[%s] %s\n", s.clock.Now().UTC().Format(logTimeLayout), text)
	if err := os.MkdirAll(filepath.Dir(s.cfg.LogFile), 0o755); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, s.cfg.LogFile)
	}
	f, err := os.OpenFile(s.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, s.cfg.LogFile)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return cerrors.WrapError(cerrors.ErrIO, err, s.cfg.LogFile)
	}
	if err := f.Close(); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, s.cfg.LogFile)
	}
	return nil
}

// Close disconnects the client when it is connected.
func (s *Server) Close() error {
	if s.cli.State() != client.StateConnected {
		return nil
	}
	return s.cli.Close()
}
