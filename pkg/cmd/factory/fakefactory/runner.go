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

package fakefactory

import (
	"context"
	"sync"

	"github.com/pingcap/jobflow/pkg/submission"
)

// Runner is a submission.Runner answering commands by their first word.
// Started processes stay alive until terminated.
type Runner struct {
	mu      sync.Mutex
	answers map[string]*submission.Result
	calls   [][]string
	nextPid int
	alive   map[int]bool
	killed  []int
}

var _ submission.Runner = (*Runner)(nil)

// NewRunner creates a runner whose first process gets pid 4242.
func NewRunner() *Runner {
	return &Runner{
		answers: make(map[string]*submission.Result),
		nextPid: 4242,
		alive:   make(map[int]bool),
	}
}

// Answer sets the result of the commands starting with cmd.
func (r *Runner) Answer(cmd, stdout string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[cmd] = &submission.Result{Stdout: stdout, ExitCode: code}
}

// Calls returns the command lines run or started so far.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

// Killed returns the terminated pids.
func (r *Runner) Killed() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.killed...)
}

// Run implements submission.Runner. Unknown commands exit with 127.
func (r *Runner) Run(_ context.Context, argv []string) (*submission.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), argv...))
	if res, ok := r.answers[argv[0]]; ok {
		cp := *res
		return &cp, nil
	}
	return &submission.Result{Stderr: argv[0] + ": command not found", ExitCode: 127}, nil
}

// Start implements submission.Runner.
func (r *Runner) Start(_ context.Context, argv []string, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), argv...))
	pid := r.nextPid
	r.nextPid++
	r.alive[pid] = true
	return pid, nil
}

// Alive implements submission.Runner.
func (r *Runner) Alive(_ context.Context, pid int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive[pid], nil
}

// Terminate implements submission.Runner.
func (r *Runner) Terminate(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, pid)
	r.alive[pid] = false
	return nil
}
