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
	"strings"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/logutil"
	"go.uber.org/zap"
)

// ServerUpdater is the part of the workflow server the submission
// commands report to.
type ServerUpdater interface {
	ForceComplete(ctx context.Context, path string) error
	ForceAbort(ctx context.Context, path string) error
	UpdateSubmissionID(ctx context.Context, path, id string) error
	UpdateLog(text string) error
}

// SubmitOptions tune SubmitTask.
type SubmitOptions struct {
	// EnvFile is copied into the job script when set.
	EnvFile string
	// DryRun writes the job script and computes the submit command
	// without running it or contacting the server.
	DryRun bool
}

// SubmitResult describes what SubmitTask did.
type SubmitResult struct {
	JobID   string
	Command []string
	// Completed is set when a submit exception completed the task
	// instead of submitting it.
	Completed bool
}

// SubmitTask is the job command of the workflow server: it finishes the
// job script of one try of a task and submits it, or marks the task
// complete when a submit exception applies. Failures are appended to the
// submission log of the try.
func SubmitTask(ctx context.Context, ts *TaskSettings, deps Deps, srv ServerUpdater, opts SubmitOptions) (*SubmitResult, error) {
	lg := logutil.NewLogger4Task(ts.Task, ts.TryNo)
	res := &SubmitResult{}
	err := func() error {
		if srv == nil && !opts.DryRun {
			return cerrors.ErrConfig.GenWithStackByArgs("a workflow server is required to submit")
		}
		b, err := NewFromSettings(ts, deps)
		if err != nil {
			return err
		}
		if err := WriteJobFile(ts, b, opts.EnvFile); err != nil {
			return err
		}
		if res.Command, err = b.SubmitCommand(ts); err != nil {
			return cerrors.ErrSubmit.Wrap(err).GenWithStackByArgs(ts.Task, ts.SubmitType, "", err.Error())
		}
		if opts.DryRun {
			lg.Info("dry run, job not submitted", zap.Strings("command", res.Command))
			return nil
		}
		if ts.Complete {
			lg.Info("task completed without submission", zap.String("reason", ts.CompleteReason))
			res.Completed = true
			return srv.ForceComplete(ctx, ts.Task)
		}
		if err := srv.UpdateLog("ECF_JOB_CMD: " + strings.Join(res.Command, " ")); err != nil {
			lg.Warn("update server log failed", zap.Error(err))
		}
		if res.JobID, err = b.Submit(ctx, ts); err != nil {
			return err
		}
		return srv.UpdateSubmissionID(ctx, ts.Task, res.JobID)
	}()
	if err != nil {
		if werr := appendFile(ts.SubmissionLog(), "Submission failed: "+err.Error()+"\n"); werr != nil {
			lg.Warn("write submission log failed", zap.Error(werr))
		}
		lg.Error("submit task failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// KillTask is the kill command of the workflow server: it cancels the job
// and marks the task aborted. An empty submissionID falls back to the
// recorded job of the task.
func KillTask(ctx context.Context, ts *TaskSettings, deps Deps, srv ServerUpdater, submissionID string, dryRun bool) error {
	lg := logutil.NewLogger4Task(ts.Task, ts.TryNo)
	b, err := NewFromSettings(ts, deps)
	if err != nil {
		return err
	}
	jobID, err := resolveJobID(ctx, deps, ts, submissionID, cerrors.ErrKill)
	if err != nil {
		return err
	}
	if dryRun {
		lg.Info("dry run, job not killed", zap.String("job-id", jobID))
		return nil
	}
	if err := b.Kill(ctx, jobID); err != nil {
		lg.Error("kill task failed", zap.Error(err))
		return err
	}
	if srv == nil {
		return nil
	}
	return srv.ForceAbort(ctx, ts.Task)
}

// StatusTask is the status command of the workflow server.
func StatusTask(ctx context.Context, ts *TaskSettings, deps Deps, submissionID string) (JobStatus, error) {
	b, err := NewFromSettings(ts, deps)
	if err != nil {
		return StatusUnknown, err
	}
	jobID, err := resolveJobID(ctx, deps, ts, submissionID, cerrors.ErrStatus)
	if err != nil {
		if cerrors.Is(err, cerrors.ErrJobRecordNotFound) {
			return StatusUnknown, nil
		}
		return StatusUnknown, err
	}
	st, err := b.Status(ctx, jobID)
	if err != nil {
		return StatusUnknown, err
	}
	logutil.NewLogger4Task(ts.Task, ts.TryNo).Info("job status",
		zap.String("job-id", jobID), zap.String("status", string(st)))
	return st, nil
}

func resolveJobID(ctx context.Context, deps Deps, ts *TaskSettings, submissionID string, rfc *errors.Error) (string, error) {
	if submissionID != "" {
		return submissionID, nil
	}
	if deps.Store == nil {
		return "", rfc.GenWithStackByArgs(ts.Task, ts.SubmitType, "", "no job id was provided")
	}
	rec, err := deps.Store.Get(ctx, ts.Task)
	if err != nil {
		return "", err
	}
	return rec.JobID, nil
}
