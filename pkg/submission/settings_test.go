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
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testDefinitions = `
submit_types = ["background", "scalar"]
default_submit_type = "scalar"

[background]
HOST = "0"
OMP = "export OMP_NUM_THREADS=1"
tasks = ["InitRun", "LogProgress"]

[scalar]
HOST = "1"
SUBMIT_TYPE = "slurm"
SSH = "ssh me@hpc"
WRAPPER = "srun"
NTASKS = "#SBATCH -n 1"
TRAILER = ["echo done"]

[scalar.SUBMIT_VARIABLES]
OMP_NUM_THREADS = 4

[task_exceptions.Forecast]
WRAPPER = "mpirun -np 16"
NTASKS = "#SBATCH -n 16"

[submit_exceptions.Forecast]
complete = true
coldstart_only = true

[submit_exceptions.Archive]
complete = true
`

var testDirs = JobOutDirs{"0": "/host0/job", "1": "/host1/job"}

func writeDefinitions(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveSettings(t *testing.T) {
	t.Parallel()

	defs, err := LoadDefinitions(writeDefinitions(t, "submit.toml", testDefinitions))
	require.NoError(t, err)
	require.Equal(t, []string{"background", "scalar"}, defs.SubmitTypes)

	ts, err := defs.Resolve("/exp/InitRun", 1, testDirs, false)
	require.NoError(t, err)
	require.Equal(t, "background", ts.TypeName)
	require.Equal(t, KindBackground, ts.SubmitType)
	require.Equal(t, "0", ts.Host)
	require.Equal(t, map[string]string{"OMP": "export OMP_NUM_THREADS=1"}, ts.Header)
	require.Equal(t, "/host0/job/exp/InitRun.job1", ts.JobFile())
	require.Equal(t, "/host0/job/exp/InitRun.job1", ts.JobFileAtHost())

	ts, err = defs.Resolve("/exp/Forecasting/Forecast", 2, testDirs, false)
	require.NoError(t, err)
	require.Equal(t, KindSlurm, ts.SubmitType)
	require.Equal(t, "1", ts.Host)
	require.Equal(t, "ssh me@hpc", ts.Remote)
	require.Equal(t, "mpirun -np 16", ts.Wrapper)
	require.Equal(t, "#SBATCH -n 16", ts.Header["NTASKS"])
	require.Equal(t, []string{"echo done"}, ts.Trailer)
	require.Equal(t, map[string]string{"OMP_NUM_THREADS": "4"}, ts.SubmitVariables)
	require.Equal(t, DefaultInterpreter, ts.Interpreter)
	require.Equal(t, "/host0/job/exp/Forecasting/Forecast.job2", ts.JobFile())
	require.Equal(t, "/host1/job/exp/Forecasting/Forecast.job2", ts.JobFileAtHost())
	require.Equal(t, "/host1/job/exp/Forecasting/Forecast.2", ts.OutputAtHost())
	require.Equal(t, "/host0/job/exp/Forecasting/Forecast.job2.sub", ts.SubmissionLog())
	require.False(t, ts.Complete)

	// the exception only applies to a cold start
	ts, err = defs.Resolve("/exp/Forecasting/Forecast", 2, testDirs, true)
	require.NoError(t, err)
	require.True(t, ts.Complete)
	require.True(t, ts.ColdStart)

	// a family name matches every task below it
	ts, err = defs.Resolve("/exp/Archive/Store", 1, testDirs, false)
	require.NoError(t, err)
	require.True(t, ts.Complete)
	require.Contains(t, ts.CompleteReason, "Family Archive")
}

func TestResolveSettingsJSON(t *testing.T) {
	t.Parallel()

	path := writeDefinitions(t, "submit.json", `{
  "submit_types": ["batch"],
  "default_submit_type": "batch",
  "batch": {
    "HOST": "0",
    "SUBMIT_TYPE": "batch",
    "SUBMIT_CMD": "echo JOB123",
    "STATUS_CMD": "echo queued",
    "KILL_CMD": "true",
    "PREFIX": "#BATCH",
    "INTERPRETER": "#!/bin/bash"
  }
}`)
	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	ts, err := defs.Resolve("/S/A", 1, JobOutDirs{"0": "/job"}, false)
	require.NoError(t, err)
	require.Equal(t, KindBatch, ts.SubmitType)
	require.Equal(t, "echo JOB123", ts.SubmitCmd)
	require.Equal(t, "#BATCH", ts.Prefix)
	require.Equal(t, "#!/bin/bash", ts.Interpreter)
	require.Empty(t, ts.Header)
}

func TestResolveSettingsYAML(t *testing.T) {
	t.Parallel()

	path := writeDefinitions(t, "submit.yaml", `
submit_types: [pbs]
default_submit_type: pbs
pbs:
  HOST: 1
  SUBMIT_TYPE: pbs
  SSH: ssh hpc-login
  INTERPRETER: "#!/bin/bash"
submit_exceptions:
  Store:
    complete: true
`)
	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	ts, err := defs.Resolve("/S/A", 1, JobOutDirs{"0": "/job", "1": "/remote/job"}, false)
	require.NoError(t, err)
	require.Equal(t, KindPBS, ts.SubmitType)
	require.Equal(t, "1", ts.Host)
	require.Equal(t, "ssh hpc-login", ts.Remote)
	require.Equal(t, "/remote/job", ts.JobOutDirAtHost)

	ts, err = defs.Resolve("/S/Store", 1, JobOutDirs{"0": "/job", "1": "/remote/job"}, false)
	require.NoError(t, err)
	require.True(t, ts.Complete)
}

func TestResolveSettingsErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		task    string
		dirs    JobOutDirs
	}{
		{"no types", `default_submit_type = "a"`, "/S/A", testDirs},
		{"unknown default", "submit_types = [\"a\"]\ndefault_submit_type = \"b\"\n[a]\nHOST = \"0\"\n", "/S/A", testDirs},
		{"bad host", "submit_types = [\"a\"]\ndefault_submit_type = \"a\"\n[a]\nHOST = \"2\"\n", "/S/A", testDirs},
		{"missing host", "submit_types = [\"a\"]\ndefault_submit_type = \"a\"\n[a]\nX = \"1\"\n", "/S/A", testDirs},
		{"unknown backend", "submit_types = [\"a\"]\ndefault_submit_type = \"a\"\n[a]\nHOST = \"0\"\nSUBMIT_TYPE = \"lsf\"\n", "/S/A", testDirs},
		{"batch without command", "submit_types = [\"a\"]\ndefault_submit_type = \"a\"\n[a]\nHOST = \"0\"\nSUBMIT_TYPE = \"batch\"\n", "/S/A", testDirs},
		{"no dir for host", "submit_types = [\"a\"]\ndefault_submit_type = \"a\"\n[a]\nHOST = \"1\"\n", "/S/A", JobOutDirs{"0": "/job"}},
		{"no dir for host 0", "submit_types = [\"a\"]\ndefault_submit_type = \"a\"\n[a]\nHOST = \"0\"\n", "/S/A", JobOutDirs{}},
	}
	for _, tc := range testCases {
		defs, err := LoadDefinitions(writeDefinitions(t, "submit.toml", tc.content))
		if err == nil {
			_, err = defs.Resolve(tc.task, 1, tc.dirs, false)
		}
		require.True(t, cerrors.IsConfigError(err), "%s: %v", tc.name, err)
	}

	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.toml"))
	require.True(t, cerrors.Is(err, cerrors.ErrIO))
	_, err = LoadDefinitions(writeDefinitions(t, "broken.toml", "submit_types = ["))
	require.True(t, cerrors.Is(err, cerrors.ErrConfig))
}
