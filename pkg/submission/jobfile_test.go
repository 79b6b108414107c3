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

func TestRenderJob(t *testing.T) {
	t.Parallel()

	ts := testSettings("/job", "/S/F/A")
	ts.Host = "1"
	ts.Wrapper = "srun"
	ts.Trailer = []string{"echo done"}
	ts.Header = map[string]string{
		"NTASKS": "#SBATCH -n 1",
		"OMP":    "export OMP_NUM_THREADS=1",
	}
	body := "run " + WrapperPlaceholder + " on " + HostPlaceholder + "\n"
	directives := []string{"#SBATCH -o /job/S/F/A.1", "#SBATCH -J A"}

	expected := `#!/usr/bin/env python3

# Batch commands
#SBATCH -o /job/S/F/A.1
#SBATCH -J A
#SBATCH -n 1

# Host specific environment settings:
module load python3

# Task specific settings:
export OMP_NUM_THREADS=1

# Job script:
run srun on 1
echo done
`
	require.Equal(t, expected, RenderJob(ts, directives, body, "module load python3"))

	// explicit output or name settings replace the backend directives
	ts.Header["NAME"] = "#SBATCH -J custom"
	out := RenderJob(ts, directives, body, "")
	require.NotContains(t, out, "#SBATCH -J A\n")
	require.Contains(t, out, "#SBATCH -J custom\n")
	require.NotContains(t, out, "Host specific environment settings")
}

func TestWriteJobFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ts := testSettings(dir, "/S/A")
	ts.Wrapper = "mpirun"
	require.NoError(t, os.MkdirAll(filepath.Dir(ts.JobFile()), 0o755))
	require.NoError(t, os.WriteFile(ts.JobFile(), []byte(WrapperPlaceholder+" ./model\n"), 0o644))
	envFile := filepath.Join(dir, "env.sh")
	require.NoError(t, os.WriteFile(envFile, []byte("export PATH=/opt/bin:$PATH\n"), 0o644))

	b, err := NewFromSettings(ts, Deps{Store: newMemoryStore(t), Runner: newFakeRunner()})
	require.NoError(t, err)
	require.NoError(t, WriteJobFile(ts, b, envFile))

	info, err := os.Stat(ts.JobFile())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	data, err := os.ReadFile(ts.JobFile())
	require.NoError(t, err)
	require.Contains(t, string(data), "# Background jobs use standard output/error\n")
	require.Contains(t, string(data), "export PATH=/opt/bin:$PATH\n")
	require.Contains(t, string(data), "# Job script:\nmpirun ./model\n")

	// no temporary file is left behind
	entries, err := os.ReadDir(filepath.Dir(ts.JobFile()))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	missing := testSettings(dir, "/S/B")
	err = WriteJobFile(missing, b, "")
	require.True(t, cerrors.Is(err, cerrors.ErrIO))
	err = WriteJobFile(ts, b, filepath.Join(dir, "no-env.sh"))
	require.True(t, cerrors.Is(err, cerrors.ErrIO))
}
