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
	"github.com/pingcap/jobflow/pkg/jobstore"
	"go.uber.org/zap"
)

// queueJob submits through the command line of a batch queue system.
type queueJob struct {
	b      *backend
	v      *variant
	prefix string
	submit []string
	status []string
	kill   []string
}

func (q *queueJob) command(ts *TaskSettings) ([]string, error) {
	argv := append([]string{}, q.submit...)
	for _, k := range sortedKeys(ts.SubmitVariables) {
		argv = append(argv, q.v.exportArgs(k, ts.SubmitVariables[k])...)
	}
	argv = append(argv, ts.JobFileAtHost())
	return q.b.withRemote(argv), nil
}

func (q *queueJob) run(ctx context.Context, argv []string, logPath string) (*Result, error) {
	res, err := q.b.cfg.Runner.Run(ctx, argv)
	if err != nil {
		return nil, err
	}
	if werr := appendFile(logPath, res.Stdout+res.Stderr); werr != nil {
		q.b.lg.Warn("write command output failed", zap.String("path", logPath), zap.Error(werr))
	}
	return res, nil
}

func (q *queueJob) launch(ctx context.Context, argv []string) (string, JobStatus, error) {
	res, err := q.run(ctx, argv, q.b.cfg.SubmissionLog)
	if err != nil {
		return "", StatusUnknown, err
	}
	if res.ExitCode != 0 {
		return "", StatusUnknown, errors.Errorf("exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	jobID, err := q.v.jobID(res.Stdout)
	if err != nil {
		return "", StatusUnknown, err
	}
	return jobID, StatusQueued, nil
}

func (q *queueJob) query(ctx context.Context, rec *jobstore.Record) (JobStatus, error) {
	argv := q.b.withRemote(append(append([]string{}, q.status...), rec.JobID))
	res, err := q.run(ctx, argv, q.b.cfg.StatusLog)
	if err != nil {
		return StatusUnknown, err
	}
	return q.v.parseStatus(res)
}

func (q *queueJob) cancel(ctx context.Context, jobID string) (string, string, error) {
	argv := q.b.withRemote(append(append([]string{}, q.kill...), jobID))
	cmdline := strings.Join(argv, " ")
	res, err := q.b.cfg.Runner.Run(ctx, argv)
	if err != nil {
		return cmdline, "", err
	}
	output := res.Stdout + res.Stderr
	if res.ExitCode != 0 {
		return cmdline, output, errors.Errorf("exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return cmdline, output, nil
}

func (q *queueJob) logFile() string {
	return q.b.cfg.SubmissionLog
}

func (q *queueJob) directives() []string {
	name := q.b.jobName
	if q.v.maxNameLen > 0 && len(name) > q.v.maxNameLen {
		name = name[:q.v.maxNameLen]
	}
	return q.v.directives(q.prefix, q.b.outputPath, name)
}
