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

package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/jobflow/pkg/clock"
	"github.com/pingcap/jobflow/pkg/defs"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/server/mockserver"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/pingcap/jobflow/pkg/suite"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	argvs    [][]string
	exitCode int
}

func (r *fakeRunner) Run(_ context.Context, argv []string) (*submission.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.argvs = append(r.argvs, argv)
	return &submission.Result{ExitCode: r.exitCode, Stderr: "port in use\n"}, nil
}

func (r *fakeRunner) Start(context.Context, []string, string) (int, error) { return 0, nil }

func (r *fakeRunner) Alive(context.Context, int) (bool, error) { return false, nil }

func (r *fakeRunner) Terminate(int) error { return nil }

func buildSuite(t *testing.T) *defs.Definition {
	s, err := suite.NewSuite("S")
	require.NoError(t, err)
	f, err := s.AddFamily("F")
	require.NoError(t, err)
	_, err = f.AddTask("A")
	require.NoError(t, err)
	b, err := f.AddTask("B")
	require.NoError(t, err)
	require.NoError(t, b.AddTrigger("A == complete", suite.ModeAnd))
	def, err := defs.Build(s)
	require.NoError(t, err)
	return def
}

func newServer(t *testing.T, cfg *Config, opts ...Option) (*Server, *mockserver.Server, *fakeRunner) {
	mock := mockserver.New()
	cli, err := client.New(&client.Session{
		Host: "localhost", Port: 3141, Retries: 2,
		Timeout: time.Second, RetryBase: time.Millisecond, TotalTimeout: 5 * time.Second,
	}, mock.Transport())
	require.NoError(t, err)
	runner := &fakeRunner{}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.StartRetryBase = time.Millisecond
	srv, err := New(cli, cfg, runner, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, mock, runner
}

func TestStartServerAlreadyRunning(t *testing.T) {
	t.Parallel()

	srv, _, runner := newServer(t, nil)
	require.NoError(t, srv.StartServer(context.Background()))
	require.Empty(t, runner.argvs)
	require.Equal(t, client.StateConnected, srv.Client().State())
	// a second call is a no-op
	require.NoError(t, srv.StartServer(context.Background()))
}

func TestStartServerRunsStartCommand(t *testing.T) {
	t.Parallel()

	srv, mock, runner := newServer(t, nil)
	// unreachable for the first connect, answers after the start command
	mock.FailNext(client.CmdPing, 2)
	require.NoError(t, srv.StartServer(context.Background()))
	require.Equal(t, [][]string{{"ecflow_start.sh", "-p", "3141"}}, runner.argvs)
	require.Equal(t, client.StateConnected, srv.Client().State())
}

func TestStartServerFailures(t *testing.T) {
	t.Parallel()

	srv, mock, runner := newServer(t, &Config{StartRetries: 2})
	mock.FailNext(client.CmdPing, 100)
	err := srv.StartServer(context.Background())
	require.True(t, cerrors.Is(err, cerrors.ErrStartServer))
	require.Len(t, runner.argvs, 1)

	srv, mock, runner = newServer(t, &Config{StartCmd: "my_start --port={port} --quiet"})
	runner.exitCode = 1
	mock.FailNext(client.CmdPing, 100)
	err = srv.StartServer(context.Background())
	require.True(t, cerrors.Is(err, cerrors.ErrStartServer))
	require.ErrorContains(t, err, "port in use")
	require.Equal(t, []string{"my_start", "--port=3141", "--quiet"}, runner.argvs[0])
}

func TestNewValidatesStartCommand(t *testing.T) {
	t.Parallel()

	cli, err := client.New(client.NewSession("localhost", 3141), mockserver.New().Transport())
	require.NoError(t, err)
	_, err = New(cli, &Config{StartCmd: `start "unterminated`}, &fakeRunner{})
	require.True(t, cerrors.Is(err, cerrors.ErrConfig))
	_, err = New(cli, nil, nil)
	require.True(t, cerrors.Is(err, cerrors.ErrConfig))
}

func TestStartSuiteAndTriggers(t *testing.T) {
	t.Parallel()

	srv, mock, _ := newServer(t, nil)
	ctx := context.Background()
	def := buildSuite(t)
	err := srv.StartSuite(ctx, "T", def, true)
	require.True(t, cerrors.Is(err, cerrors.ErrInvalidArgument))

	require.NoError(t, srv.StartSuite(ctx, "S", def, true))
	eligible, err := mock.Eligible("/S/F/A")
	require.NoError(t, err)
	require.True(t, eligible)
	eligible, err = mock.Eligible("/S/F/B")
	require.NoError(t, err)
	require.False(t, eligible)

	require.NoError(t, srv.ForceComplete(ctx, "/S/F/A"))
	eligible, err = mock.Eligible("/S/F/B")
	require.NoError(t, err)
	require.True(t, eligible)

	require.NoError(t, srv.ForceAbort(ctx, "/S/F/B"))
	require.Equal(t, suite.StateAborted, mock.State("/S/F/B"))
	require.NoError(t, srv.Requeue(ctx, "/S/F"))
	require.Equal(t, suite.StateQueued, mock.State("/S/F/A"))
	require.Equal(t, suite.StateQueued, mock.State("/S/F/B"))
}

func TestReplaceFallsBackToDelete(t *testing.T) {
	t.Parallel()

	srv, mock, _ := newServer(t, nil)
	ctx := context.Background()
	def := buildSuite(t)
	require.NoError(t, srv.Replace(ctx, "/S", def))

	mock.RejectNext(client.CmdReplace, "suite is locked")
	require.NoError(t, srv.Replace(ctx, "/S", def))
	var commands []string
	for _, c := range mock.Calls() {
		commands = append(commands, c.Command)
	}
	require.Equal(t, []string{client.CmdPing, client.CmdReplace, client.CmdDelete, client.CmdReplace}, commands)
	require.Contains(t, mock.Paths(), "/S/F/B")
}

func TestReplaceError(t *testing.T) {
	t.Parallel()

	srv, mock, _ := newServer(t, nil)
	ctx := context.Background()
	def := buildSuite(t)
	require.NoError(t, srv.Replace(ctx, "/S", def))

	mock.RejectNext(client.CmdReplace, "suite is locked")
	mock.RejectNext(client.CmdReplace, "out of memory")
	err := srv.Replace(ctx, "/S", def)
	require.True(t, cerrors.Is(err, cerrors.ErrReplace))
	require.ErrorContains(t, err, "out of memory")
	// the old definition is gone
	require.Empty(t, mock.Paths())

	// a failed delete keeps the first error and is not a partial replace
	mock.RejectNext(client.CmdReplace, "suite is locked")
	err = srv.Replace(ctx, "/S", def)
	require.False(t, cerrors.Is(err, cerrors.ErrReplace))
	require.True(t, cerrors.Is(err, cerrors.ErrServerRejected))
	require.ErrorContains(t, err, "suite is locked")
}

func TestUpdateSubmissionID(t *testing.T) {
	t.Parallel()

	srv, mock, _ := newServer(t, nil)
	ctx := context.Background()
	require.NoError(t, srv.Replace(ctx, "/S", buildSuite(t)))
	require.NoError(t, srv.UpdateSubmissionID(ctx, "/S/F/A", "4711.pbs"))
	v, ok := mock.Variable("/S/F/A", SubmissionIDVariable)
	require.True(t, ok)
	require.Equal(t, "4711.pbs", v)
	require.NoError(t, srv.UpdateSubmissionID(ctx, "/S/F/A", "4712.pbs"))
	v, _ = mock.Variable("/S/F/A", SubmissionIDVariable)
	require.Equal(t, "4712.pbs", v)

	err := srv.UpdateSubmissionID(ctx, "/S/F/X", "1")
	require.True(t, cerrors.Is(err, cerrors.ErrServerRejected))
}

func TestUpdateLog(t *testing.T) {
	t.Parallel()

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2023, 3, 7, 14, 5, 9, 0, time.UTC))
	logFile := filepath.Join(t.TempDir(), "log", "server.log")
	srv, _, _ := newServer(t, &Config{LogFile: logFile}, WithClock(mockClock))

	require.NoError(t, srv.UpdateLog("ECF_JOB_CMD: qsub job"))
	mockClock.Add(time.Hour)
	require.NoError(t, srv.UpdateLog("second"))
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Equal(t, "[14:05:09 07.03.2023] ECF_JOB_CMD: qsub job\n[15:05:09 07.03.2023] second\n", string(content))

	noLog, _, _ := newServer(t, nil)
	require.NoError(t, noLog.UpdateLog("dropped"))

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	bad, _, _ := newServer(t, &Config{LogFile: filepath.Join(blocker, "server.log")})
	err = bad.UpdateLog("x")
	require.True(t, cerrors.Is(err, cerrors.ErrIO))
}
