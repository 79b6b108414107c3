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

package defs

import (
	"testing"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/suite"
	"github.com/stretchr/testify/require"
)

func TestNewSuiteDefinition(t *testing.T) {
	t.Parallel()

	cfg := &SuiteConfig{
		Name:      "harmonie",
		JobOutDir: "/scratch/jobout",
		Files:     "/opt/ecf/files",
		EnvSubmit: "/opt/ecf/submit.toml",
	}
	s, err := NewSuiteDefinition(cfg)
	require.NoError(t, err)
	require.Equal(t, "/opt/ecf/files", cfg.Include)

	for name, expected := range map[string]string{
		"ECF_EXTN":      ".py",
		"ECF_TRIES":     "1",
		"ECF_HOME":      "/scratch/jobout",
		"ECF_OUT":       "/scratch/jobout",
		"ECF_JOBOUT":    "/scratch/jobout/%ECF_NAME%.%ECF_TRYNO%",
		"SUBMISSION_ID": "",
		"ENV_SUBMIT":    "/opt/ecf/submit.toml",
	} {
		v, ok := s.Lookup(name)
		require.True(t, ok, name)
		require.Equal(t, expected, v, name)
	}
	jobCmd, _ := s.Lookup("ECF_JOB_CMD")
	require.Equal(t, "jobflow submit --submit-config %ENV_SUBMIT% --joboutdir %ECF_OUT% --server %SERVER_CONFIG% "+
		"--log %LOGFILE% --ecf-name %ECF_NAME% --ecf-tryno %ECF_TRYNO% --ecf-pass %ECF_PASS% --ecf-rid %ECF_RID%", jobCmd)
	killCmd, _ := s.Lookup("ECF_KILL_CMD")
	require.Contains(t, killCmd, "jobflow kill ")
	require.Contains(t, killCmd, "--submission-id %SUBMISSION_ID%")

	_, err = NewSuiteDefinition(&SuiteConfig{Name: "x"})
	require.True(t, cerrors.IsConfigError(err))
}

func TestBuildSuiteFromSpec(t *testing.T) {
	t.Parallel()

	spec := &SuiteSpec{
		SuiteConfig: SuiteConfig{
			Name:      "S",
			JobOutDir: "/jobout",
			Files:     "/files",
			EnvSubmit: "/submit.toml",
		},
		Variables: map[string]string{"EXP": "demo", "ARCH": "x86"},
		Nodes: []NodeSpec{
			{
				Name: "F",
				Nodes: []NodeSpec{
					{Name: "A"},
					{Name: "B", Trigger: "A == complete", Variables: map[string]string{"NPROC": "4"}},
				},
			},
			{Name: "Clean", Kind: "task", Trigger: "F == complete", DefStatus: "complete"},
		},
	}
	s, err := BuildSuite(spec)
	require.NoError(t, err)

	def, err := Build(s)
	require.NoError(t, err)
	require.Equal(t, []string{"/S/F/A", "/S/F/B", "/S/Clean"}, def.Tasks())
	b, _ := def.Lookup("/S/F/B")
	require.Equal(t, "F/A == complete", b.Trigger)
	require.Equal(t, []suite.Variable{{Name: "NPROC", Value: "4"}}, b.Variables)
	clean, _ := def.Lookup("/S/Clean")
	require.Equal(t, "F == complete", clean.Trigger)
	require.Equal(t, suite.StateComplete, clean.DefStatus)

	root := def.Entries[0]
	require.Equal(t, suite.Variable{Name: "ARCH", Value: "x86"}, root.Variables[len(root.Variables)-2])
	require.Equal(t, suite.Variable{Name: "EXP", Value: "demo"}, root.Variables[len(root.Variables)-1])

	spec.Nodes = append(spec.Nodes, NodeSpec{Name: "X", Kind: "meter"})
	_, err = BuildSuite(spec)
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))
}
