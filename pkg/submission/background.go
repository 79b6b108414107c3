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
	"os"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/jobstore"
)

// exitFileSuffix names the file next to the job output that receives the
// exit code of a background job.
const exitFileSuffix = ".exit"

// backgroundJob runs the job script as a detached process of the local
// host. The pid is the job id.
type backgroundJob struct {
	b *backend
}

func (j *backgroundJob) exitFile(output string) string {
	return output + exitFileSuffix
}

func (j *backgroundJob) command(ts *TaskSettings) ([]string, error) {
	if j.b.outputPath == "" {
		return nil, errors.New("output path is not set")
	}
	var sb strings.Builder
	for _, k := range sortedKeys(ts.SubmitVariables) {
		sb.WriteString("export " + k + "=" + shellQuote(ts.SubmitVariables[k]) + "; ")
	}
	sb.WriteString(shellQuote(ts.JobFileAtHost()))
	sb.WriteString("; echo $? > " + shellQuote(j.exitFile(j.b.outputPath)))
	return []string{"/bin/sh", "-c", sb.String()}, nil
}

func (j *backgroundJob) launch(ctx context.Context, argv []string) (string, JobStatus, error) {
	// a cold start may reuse the output of the same try
	if err := os.Remove(j.exitFile(j.b.outputPath)); err != nil && !os.IsNotExist(err) {
		return "", StatusUnknown, errors.Trace(err)
	}
	pid, err := j.b.cfg.Runner.Start(ctx, argv, j.b.outputPath)
	if err != nil {
		return "", StatusUnknown, err
	}
	return strconv.Itoa(pid), StatusRunning, nil
}

func (j *backgroundJob) readExit(output string) (JobStatus, bool) {
	data, err := os.ReadFile(j.exitFile(output))
	if err != nil {
		return StatusUnknown, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// still being written
		return StatusUnknown, false
	}
	if code == 0 {
		return StatusComplete, true
	}
	return StatusAborted, true
}

func (j *backgroundJob) query(ctx context.Context, rec *jobstore.Record) (JobStatus, error) {
	if st, ok := j.readExit(rec.OutputPath); ok {
		return st, nil
	}
	pid, err := strconv.Atoi(rec.JobID)
	if err != nil {
		return StatusUnknown, errors.Errorf("job id %q is not a pid", rec.JobID)
	}
	alive, err := j.b.cfg.Runner.Alive(ctx, pid)
	if err != nil {
		return StatusUnknown, err
	}
	if alive {
		return StatusRunning, nil
	}
	if st, ok := j.readExit(rec.OutputPath); ok {
		return st, nil
	}
	// gone without an exit code, killed by a signal
	return StatusAborted, nil
}

func (j *backgroundJob) cancel(_ context.Context, jobID string) (string, string, error) {
	cmdline := "kill -TERM -" + jobID
	pid, err := strconv.Atoi(jobID)
	if err != nil || pid <= 0 {
		return cmdline, "", errors.Errorf("job id %q is not a pid", jobID)
	}
	return cmdline, "", j.b.cfg.Runner.Terminate(pid)
}

func (j *backgroundJob) logFile() string {
	return j.b.outputPath
}

func (j *backgroundJob) directives() []string {
	return []string{
		"# Background jobs use standard output/error",
		"# Background jobs get job name from process name",
	}
}
