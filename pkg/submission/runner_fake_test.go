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
	"sync"
	"testing"

	"github.com/pingcap/jobflow/pkg/jobstore"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers commands by their first word.
type fakeRunner struct {
	mu      sync.Mutex
	answers map[string]*Result
	calls   [][]string
	nextPid int
	alive   map[int]bool
	killed  []int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		answers: make(map[string]*Result),
		nextPid: 4242,
		alive:   make(map[int]bool),
	}
}

func (r *fakeRunner) answer(cmd, stdout string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[cmd] = &Result{Stdout: stdout, ExitCode: code}
}

func (r *fakeRunner) Run(_ context.Context, argv []string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{}, argv...))
	if res, ok := r.answers[argv[0]]; ok {
		cp := *res
		return &cp, nil
	}
	return &Result{Stderr: "command not found", ExitCode: 127}, nil
}

func (r *fakeRunner) Start(_ context.Context, argv []string, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{}, argv...))
	pid := r.nextPid
	r.nextPid++
	r.alive[pid] = true
	return pid, nil
}

func (r *fakeRunner) Alive(_ context.Context, pid int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive[pid], nil
}

func (r *fakeRunner) Terminate(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, pid)
	r.alive[pid] = false
	return nil
}

// finish marks pid as exited.
func (r *fakeRunner) finish(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[pid] = false
}

func (r *fakeRunner) lastCall() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func newMemoryStore(t *testing.T) jobstore.Store {
	s, err := jobstore.NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSettings(dir, task string) *TaskSettings {
	return &TaskSettings{
		Task:            task,
		TryNo:           1,
		SubmitType:      KindBackground,
		Host:            "0",
		Interpreter:     DefaultInterpreter,
		SubmitVariables: map[string]string{},
		Header:          map[string]string{},
		JobOutDir:       dir,
		JobOutDirAtHost: dir,
	}
}
