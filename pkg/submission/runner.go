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
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes backend commands. A non-zero exit code is reported in
// Result and is not an error, errors mean the command could not run.
type Runner interface {
	// Run runs argv and waits for it.
	Run(ctx context.Context, argv []string) (*Result, error)
	// Start starts argv detached in its own process group with stdout and
	// stderr appended to logPath, and returns its pid.
	Start(ctx context.Context, argv []string, logPath string) (int, error)
	// Alive reports whether pid still runs.
	Alive(ctx context.Context, pid int) (bool, error)
	// Terminate sends SIGTERM to the process group of pid. A group that
	// is already gone is not an error.
	Terminate(pid int) error
}

type execRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, errors.Annotatef(err, "run %s", argv[0])
	}
	return res, nil
}

func (execRunner) Start(ctx context.Context, argv []string, logPath string) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, errors.Trace(err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errors.Trace(err)
	}
	// the child owns its copies of the descriptors after Start
	defer logFile.Close()

	// not bound to ctx, the job outlives the submitting process
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, errors.Annotatef(err, "start %s", argv[0])
	}
	pid := cmd.Process.Pid
	go func() {
		_ = cmd.Wait()
	}()
	return pid, nil
}

func (execRunner) Alive(ctx context.Context, pid int) (bool, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Cause(err) == process.ErrorProcessNotRunning {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		// the process exited between the two calls
		return false, nil
	}
	for _, st := range statuses {
		if st == process.Zombie {
			return false, nil
		}
	}
	return true, nil
}

func (execRunner) Terminate(pid int) error {
	err := unix.Kill(-pid, unix.SIGTERM)
	if err == unix.ESRCH {
		return nil
	}
	return errors.Trace(err)
}
