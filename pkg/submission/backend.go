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

package submission

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/jobstore"
	"github.com/pingcap/jobflow/pkg/logutil"
	"go.uber.org/zap"
)

// KilledMarker is appended to the output of a killed job.
const KilledMarker = "*** KILLED BY jobflow kill ***"

var errStaleRecord = errors.New("job record changed concurrently")

// Backend places the job script of one task into execution and tracks it.
// An instance serves one task. Status and Kill may run concurrently.
type Backend interface {
	Kind() Kind
	// SetOutputPath and SetJobName must be called before Submit.
	SetOutputPath(path string)
	SetJobName(name string)
	// SubmitCommand returns the command Submit would run.
	SubmitCommand(ts *TaskSettings) ([]string, error)
	// Submit starts the job and records it, returning the job id.
	Submit(ctx context.Context, ts *TaskSettings) (string, error)
	// Status reports the state of jobID. A job id without a record is
	// StatusUnknown.
	Status(ctx context.Context, jobID string) (JobStatus, error)
	// Kill cancels jobID, a job in a terminal state is left alone.
	Kill(ctx context.Context, jobID string) error
	// LogFile is the file receiving the output of the submit command.
	LogFile() string
	// Directives are the header lines a job script needs for this
	// backend to honor the output path and job name.
	Directives() []string
}

// Deps are the collaborators shared by all backends of a process.
type Deps struct {
	Store  jobstore.Store
	Runner Runner
}

// Config configures a backend for one task. Empty command templates fall
// back to the defaults of the backend kind.
type Config struct {
	// Task is the full node path of the task.
	Task string

	SubmitCmd string
	StatusCmd string
	KillCmd   string
	Prefix    string
	// Remote is prepended to every command, such as "ssh user@host".
	Remote string

	SubmissionLog string
	StatusLog     string
	KillLog       string

	Deps
}

// launcher is what differs between the background process and the
// queue systems.
type launcher interface {
	command(ts *TaskSettings) ([]string, error)
	launch(ctx context.Context, argv []string) (string, JobStatus, error)
	query(ctx context.Context, rec *jobstore.Record) (JobStatus, error)
	cancel(ctx context.Context, jobID string) (cmdline, output string, err error)
	logFile() string
	directives() []string
}

type backend struct {
	kind   Kind
	cfg    Config
	remote []string
	impl   launcher

	outputPath string
	jobName    string
	submitted  bool
	lastJobID  string

	lg *zap.Logger
}

// New creates the backend of kind. Unknown kinds and incomplete
// configurations are configuration errors.
func New(kind Kind, cfg *Config) (Backend, error) {
	if cfg == nil || cfg.Task == "" {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("submission backend needs a task name")
	}
	if cfg.Store == nil {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("submission backend needs a job store")
	}
	b := &backend{
		kind: kind,
		cfg:  *cfg,
		lg:   logutil.NewLogger4Backend(cfg.Task, string(kind)),
	}
	if b.cfg.Runner == nil {
		b.cfg.Runner = NewExecRunner()
	}
	if cfg.Remote != "" {
		remote, err := shellwords.Parse(cfg.Remote)
		if err != nil {
			return nil, cerrors.ErrConfig.Wrap(err).GenWithStackByArgs("remote command " + cfg.Remote)
		}
		b.remote = remote
	}

	if kind == KindBackground {
		if cfg.Remote != "" {
			return nil, cerrors.ErrConfig.GenWithStackByArgs("background jobs run on the local host only")
		}
		b.impl = &backgroundJob{b: b}
		return b, nil
	}

	v, ok := variants[kind]
	if !ok {
		return nil, cerrors.ErrUnknownBackend.GenWithStackByArgs(string(kind))
	}
	q := &queueJob{b: b, v: v, prefix: v.prefix}
	if cfg.Prefix != "" {
		q.prefix = cfg.Prefix
	}
	for _, t := range []struct {
		name     string
		tmpl     string
		fallback string
		dst      *[]string
	}{
		{"submit", cfg.SubmitCmd, v.submit, &q.submit},
		{"status", cfg.StatusCmd, v.status, &q.status},
		{"kill", cfg.KillCmd, v.kill, &q.kill},
	} {
		tmpl := t.tmpl
		if tmpl == "" {
			tmpl = t.fallback
		}
		args, err := shellwords.Parse(tmpl)
		if err != nil {
			return nil, cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(fmt.Sprintf("%s command %q", t.name, tmpl))
		}
		if len(args) == 0 {
			return nil, cerrors.ErrConfig.GenWithStackByArgs(fmt.Sprintf("%s backend needs a %s command", kind, t.name))
		}
		*t.dst = args
	}
	b.impl = q
	return b, nil
}

// NewFromSettings creates the backend selected by the task settings with
// the output path and job name already set.
func NewFromSettings(ts *TaskSettings, deps Deps) (Backend, error) {
	b, err := New(ts.SubmitType, &Config{
		Task:          ts.Task,
		SubmitCmd:     ts.SubmitCmd,
		StatusCmd:     ts.StatusCmd,
		KillCmd:       ts.KillCmd,
		Prefix:        ts.Prefix,
		Remote:        ts.Remote,
		SubmissionLog: ts.SubmissionLog(),
		StatusLog:     ts.StatusLog(),
		KillLog:       ts.KillLog(),
		Deps:          deps,
	})
	if err != nil {
		return nil, err
	}
	b.SetOutputPath(ts.OutputAtHost())
	b.SetJobName(ts.Name())
	return b, nil
}

func (b *backend) Kind() Kind { return b.kind }

func (b *backend) SetOutputPath(path string) { b.outputPath = path }

func (b *backend) SetJobName(name string) { b.jobName = name }

func (b *backend) LogFile() string { return b.impl.logFile() }

func (b *backend) Directives() []string { return b.impl.directives() }

func (b *backend) SubmitCommand(ts *TaskSettings) ([]string, error) {
	return b.impl.command(ts)
}

func (b *backend) fail(rfc *errors.Error, cause error, jobID, msg string) error {
	if cause != nil {
		return rfc.Wrap(cause).GenWithStackByArgs(b.cfg.Task, b.kind, jobID, msg+": "+cause.Error())
	}
	return rfc.GenWithStackByArgs(b.cfg.Task, b.kind, jobID, msg)
}

func (b *backend) Submit(ctx context.Context, ts *TaskSettings) (jobID string, err error) {
	start := time.Now()
	defer func() { observeOperation(b.kind, opSubmit, start, err) }()

	if b.outputPath == "" || b.jobName == "" {
		return "", b.fail(cerrors.ErrSubmit, nil, "", "output path and job name must be set before submit")
	}
	if b.submitted && !ts.ColdStart {
		return "", b.fail(cerrors.ErrSubmit, nil, b.lastJobID, "already submitted, resubmission needs a cold start")
	}

	lastJobID := b.lastJobID
	prev, err := b.cfg.Store.Get(ctx, b.cfg.Task)
	switch {
	case err == nil:
		lastJobID = prev.JobID
		if prev.Live() && !ts.ColdStart {
			if err := b.refreshPrevious(ctx, prev); err != nil {
				return "", err
			}
		}
	case !cerrors.Is(err, cerrors.ErrJobRecordNotFound):
		return "", b.fail(cerrors.ErrSubmit, err, lastJobID, "read job record")
	}

	argv, err := b.impl.command(ts)
	if err != nil {
		return "", b.fail(cerrors.ErrSubmit, err, lastJobID, "build submit command")
	}
	cmdline := strings.Join(argv, " ")
	b.lg.Info("submit job", zap.String("command", cmdline), zap.Bool("cold-start", ts.ColdStart))

	jobID, status, err := b.impl.launch(ctx, argv)
	if err != nil {
		return "", b.fail(cerrors.ErrSubmit, err, lastJobID, "submit command failed")
	}
	superseded, err := b.cfg.Store.Create(ctx, &jobstore.Record{
		TaskName:   b.cfg.Task,
		Backend:    string(b.kind),
		JobID:      jobID,
		Status:     status,
		TryNo:      ts.TryNo,
		SubmitCmd:  cmdline,
		OutputPath: b.outputPath,
		LogPath:    b.impl.logFile(),
	}, ts.ColdStart)
	if err != nil {
		return "", b.fail(cerrors.ErrSubmit, err, jobID, "job submitted but not recorded")
	}
	if superseded != nil {
		b.lg.Info("job record replaced",
			zap.String("old-job-id", superseded.JobID),
			zap.String("old-status", string(superseded.Status)),
			zap.String("job-id", jobID))
	}
	b.submitted = true
	b.lastJobID = jobID
	jobStatusCounter.WithLabelValues(string(b.kind), string(status)).Inc()
	logutil.WithJobID(b.lg, jobID).Info("job submitted", zap.String("status", string(status)))
	return jobID, nil
}

// refreshPrevious asks the backend about a record that still reads live.
// A previous try that finished since its last status check does not block
// the next submission.
func (b *backend) refreshPrevious(ctx context.Context, prev *jobstore.Record) error {
	lg := logutil.WithJobID(b.lg, prev.JobID)
	refuse := func(status JobStatus) error {
		return b.fail(cerrors.ErrSubmit, nil, prev.JobID,
			fmt.Sprintf("task has a live job in status %s, resubmission needs a cold start", status))
	}
	if prev.Backend != string(b.kind) {
		return refuse(prev.Status)
	}
	status, err := b.impl.query(ctx, prev)
	if err != nil {
		lg.Warn("query previous job failed", zap.Error(err))
		return refuse(prev.Status)
	}
	if !status.IsTerminal() {
		return refuse(status)
	}

	seen := prev.Revision
	_, err = b.cfg.Store.Update(ctx, prev.TaskName, func(cur *jobstore.Record) error {
		if cur.Revision != seen || cur.JobID != prev.JobID {
			return errStaleRecord
		}
		cur.Status = status
		return nil
	})
	if err != nil {
		if errors.Cause(err) != errStaleRecord {
			return b.fail(cerrors.ErrSubmit, err, prev.JobID, "update job record")
		}
		cur, gerr := b.cfg.Store.Get(ctx, prev.TaskName)
		if gerr != nil {
			return b.fail(cerrors.ErrSubmit, gerr, prev.JobID, "read job record")
		}
		if cur.Live() {
			return b.fail(cerrors.ErrSubmit, nil, cur.JobID,
				fmt.Sprintf("task has a live job in status %s, resubmission needs a cold start", cur.Status))
		}
		status = cur.Status
	}
	jobStatusCounter.WithLabelValues(string(b.kind), string(status)).Inc()
	lg.Info("previous job finished", zap.Int("try", prev.TryNo), zap.String("status", string(status)))
	return nil
}

func (b *backend) Status(ctx context.Context, jobID string) (status JobStatus, err error) {
	start := time.Now()
	defer func() { observeOperation(b.kind, opStatus, start, err) }()

	rec, err := b.cfg.Store.GetByJobID(ctx, string(b.kind), jobID)
	if err != nil {
		if cerrors.Is(err, cerrors.ErrJobRecordNotFound) {
			return StatusUnknown, nil
		}
		return StatusUnknown, b.fail(cerrors.ErrStatus, err, jobID, "read job record")
	}
	if rec.Status.IsTerminal() {
		return rec.Status, nil
	}

	status, err = b.impl.query(ctx, rec)
	if err != nil {
		return StatusUnknown, b.fail(cerrors.ErrStatus, err, jobID, "status command failed")
	}
	jobStatusCounter.WithLabelValues(string(b.kind), string(status)).Inc()
	if status == StatusUnknown {
		return status, nil
	}

	seen := rec.Revision
	_, err = b.cfg.Store.Update(ctx, rec.TaskName, func(cur *jobstore.Record) error {
		if cur.Revision != seen || cur.JobID != jobID {
			return errStaleRecord
		}
		cur.Status = status
		return nil
	})
	if err != nil {
		if errors.Cause(err) != errStaleRecord {
			return StatusUnknown, b.fail(cerrors.ErrStatus, err, jobID, "update job record")
		}
		cur, gerr := b.cfg.Store.Get(ctx, rec.TaskName)
		if gerr == nil && cur.JobID == jobID {
			logutil.WithJobID(b.lg, jobID).Info("job record changed while querying status",
				zap.String("queried", string(status)), zap.String("recorded", string(cur.Status)))
			return cur.Status, nil
		}
	}
	return status, nil
}

func (b *backend) Kill(ctx context.Context, jobID string) (err error) {
	start := time.Now()
	defer func() { observeOperation(b.kind, opKill, start, err) }()

	lg := logutil.WithJobID(b.lg, jobID)
	rec, err := b.cfg.Store.GetByJobID(ctx, string(b.kind), jobID)
	if err != nil {
		if !cerrors.Is(err, cerrors.ErrJobRecordNotFound) {
			return b.fail(cerrors.ErrKill, err, jobID, "read job record")
		}
		lg.Warn("kill job without record")
		rec = nil
	}
	if rec != nil && rec.Status.IsTerminal() {
		lg.Info("job already finished, nothing to kill", zap.String("status", string(rec.Status)))
		return nil
	}

	cmdline, output, err := b.impl.cancel(ctx, jobID)
	if werr := appendFile(b.cfg.KillLog,
		fmt.Sprintf("Kill job %s with command:\n%s\n%s", jobID, cmdline, output)); werr != nil {
		lg.Warn("write kill log failed", zap.String("path", b.cfg.KillLog), zap.Error(werr))
	}
	if err != nil {
		return b.fail(cerrors.ErrKill, err, jobID, "kill command failed")
	}

	output = b.outputPath
	if rec != nil {
		if rec.OutputPath != "" {
			output = rec.OutputPath
		}
		_, err = b.cfg.Store.Update(ctx, rec.TaskName, func(cur *jobstore.Record) error {
			if cur.JobID == jobID {
				cur.Status = StatusAborted
			}
			return nil
		})
		if err != nil {
			return b.fail(cerrors.ErrKill, err, jobID, "job killed but not recorded")
		}
	}
	if werr := appendFile(output, "\n\n"+KilledMarker+"\n"); werr != nil {
		lg.Warn("mark job output failed", zap.String("path", output), zap.Error(werr))
	}
	lg.Info("job killed", zap.String("command", cmdline))
	return nil
}

func (b *backend) withRemote(argv []string) []string {
	if len(b.remote) == 0 {
		return argv
	}
	return append(append([]string{}, b.remote...), shellJoin(argv))
}

// appendFile appends text to path, creating parent directories. An empty
// path is ignored.
func appendFile(path, text string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Trace(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// shellQuote quotes s for /bin/sh when it holds anything but plain word
// characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:,+@%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}
