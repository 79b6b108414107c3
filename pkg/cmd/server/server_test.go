// Copyright 2020 PingCAP, Inc.
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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap/jobflow/pkg/cmd/factory/fakefactory"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadServerConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
start-cmd = "my_start -p {port}"
log-file = "/scratch/server.log"
start-retries = 9
`), 0o644))

	cmd := new(cobra.Command)
	o := newStartOptions()
	o.addFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--start-retries", "3"}))
	conf, err := o.loadServerConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, "my_start -p {port}", conf.StartCmd)
	require.Equal(t, "/scratch/server.log", conf.LogFile)
	// flags win over the file
	require.Equal(t, 3, conf.StartRetries)
	require.Equal(t, time.Second, conf.StartRetryBase)

	require.NoError(t, os.WriteFile(path, []byte("start-command = \"x\"\n"), 0o644))
	cmd = new(cobra.Command)
	o = newStartOptions()
	o.addFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))
	_, err = o.loadServerConfig(cmd)
	require.ErrorContains(t, err, "unknown configuration options: start-command")
}

func TestStartRunningServer(t *testing.T) {
	t.Parallel()

	f := fakefactory.New()
	out, err := execute(NewCmdServer(f), "start")
	require.NoError(t, err)
	require.Equal(t, "workflow server localhost:3141 is running\n", out)
	require.Empty(t, f.Exec.Calls())
}

func TestStartServerRunsStartCommand(t *testing.T) {
	t.Parallel()

	f := fakefactory.New()
	f.Mock.FailNext(client.CmdPing, f.Session.Retries)
	f.Exec.Answer("my_start", "", 0)
	_, err := execute(NewCmdServer(f), "start", "--start-cmd", "my_start --port {port}", "--start-retry-base", "1ms")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"my_start", "--port", "3141"}}, f.Exec.Calls())

	f = fakefactory.New()
	f.Mock.FailNext(client.CmdPing, 100)
	f.Exec.Answer("my_start", "", 0)
	_, err = execute(NewCmdServer(f), "start",
		"--start-cmd", "my_start --port {port}", "--start-retries", "2", "--start-retry-base", "1ms")
	require.True(t, cerrors.Is(err, cerrors.ErrStartServer), "%v", err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	f := fakefactory.New()
	out, err := execute(NewCmdServer(f), "ping")
	require.NoError(t, err)
	require.Contains(t, out, "localhost:3141")
	require.Contains(t, out, "is alive")

	f.Mock.FailNext(client.CmdPing, 100)
	out, err = execute(NewCmdServer(f), "ping")
	require.True(t, cerrors.Is(err, cerrors.ErrServerCommunication), "%v", err)
	require.Contains(t, out, "does not answer")
}

func TestSession(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.json")
	out, err := execute(NewCmdSession(), "--host", "ecflow01", "--port", "2000", "--output", path)
	require.NoError(t, err)
	require.Equal(t, "server descriptor for ecflow01:3500 written to "+path+"\n", out)
	s, err := client.LoadSession(path)
	require.NoError(t, err)
	require.Equal(t, "ecflow01", s.Host)
	require.Equal(t, 2000, s.Port)
	require.Equal(t, client.DefaultPortOffset, s.PortOffset)

	_, err = execute(NewCmdSession(), "--port", "70000", "--output", path)
	require.True(t, cerrors.IsConfigError(err), "%v", err)
}
