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

package jobpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	t.Parallel()

	task := "/exp/Forecasting/Forecast"
	require.Equal(t, "/tmp/job/exp/Forecasting/Forecast.job2", Job("/tmp/job", task, 2))
	require.Equal(t, "/tmp/job/exp/Forecasting/Forecast.2", Output("/tmp/job/", task, 2))
	require.Equal(t, "/tmp/job/exp/Forecasting/Forecast.job2.sub", SubmissionLog("/tmp/job", task, 2))
	require.Equal(t, "/tmp/job/exp/Forecasting/Forecast.job2.stat", StatusLog("/tmp/job", task, 2))
	require.Equal(t, "/tmp/job/exp/Forecasting/Forecast.job2.kill", KillLog("/tmp/job", task, 2))
	require.NotEqual(t, Job("/tmp/job", task, 1), Job("/tmp/job", task, 2))
}

func TestSplit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		task     string
		name     string
		families []string
	}{
		{"/S", "S", nil},
		{"/S/A", "A", nil},
		{"/S/F/A", "A", []string{"F"}},
		{"/S/F/G/A", "A", []string{"F", "G"}},
	}
	for _, tc := range testCases {
		name, families := Split(tc.task)
		require.Equal(t, tc.name, name, tc.task)
		require.Equal(t, tc.families, families, tc.task)
	}
}
