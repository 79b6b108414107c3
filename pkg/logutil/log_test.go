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

package logutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerAndSetLogLevel(t *testing.T) {
	f := filepath.Join(t.TempDir(), "jobflow.log")
	cfg := &Config{
		Level: "warning",
		File:  f,
	}
	require.NoError(t, InitLogger(cfg))
	require.Equal(t, zapcore.WarnLevel, log.GetLevel())
	require.Equal(t, defaultLogFormat, cfg.Format)

	require.NoError(t, SetLogLevel("info"))
	require.Equal(t, zapcore.InfoLevel, log.GetLevel())
	require.NoError(t, SetLogLevel("INFO"))
	require.Equal(t, zapcore.InfoLevel, log.GetLevel())
	require.Error(t, SetLogLevel("badlevel"))

	NewLogger4Backend("S/F/A", "slurm").Info("submitted", zap.String("job_id", "42"))
	require.NoError(t, log.Sync())

	content, err := os.ReadFile(f)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(content), "[task=S/F/A]"), string(content))
	require.True(t, strings.Contains(string(content), "[backend=slurm]"), string(content))
}

func TestZapErrorFilter(t *testing.T) {
	t.Parallel()

	var (
		err       = errors.New("test error")
		testCases = []struct {
			err      error
			filters  []error
			expected zap.Field
		}{
			{nil, []error{}, zap.Error(nil)},
			{err, []error{}, zap.Error(err)},
			{err, []error{context.Canceled}, zap.Error(err)},
			{err, []error{err}, zap.Error(nil)},
			{context.Canceled, []error{context.Canceled}, zap.Error(nil)},
			{errors.Annotate(context.Canceled, "annotate error"), []error{context.Canceled}, zap.Error(nil)},
		}
	)
	for _, tc := range testCases {
		require.Equal(t, tc.expected, ZapErrorFilter(tc.err, tc.filters...))
	}
}
