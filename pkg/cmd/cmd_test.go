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

package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubcommands(t *testing.T) {
	cmd := NewCmd()
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"submit", "kill", "status", "suite", "server", "run", "version"}, names)
	for _, name := range []string{"server", "log-level", "log-file", "metrics-file"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestMetricsFileWritten(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "jobflow.prom")
	session := filepath.Join(dir, "server.json")

	cmd := NewCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--metrics-file", metrics,
		"server", "session", "--port", "2000", "--output", session,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "localhost:3500")
	require.FileExists(t, session)
	require.FileExists(t, metrics)
}

func TestCommandErrorsAreReturned(t *testing.T) {
	cmd := NewCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"server", "ping"})
	err := cmd.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "a server descriptor is required")
}

func TestVersion(t *testing.T) {
	cmd := NewCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "Release Version: ")
	require.Contains(t, out.String(), "Go Version: go")
}
