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
	"strings"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Placeholders in the job body the server generated.
const (
	WrapperPlaceholder = "@WRAPPER_TO_BE_SUBSTITUTED@"
	HostPlaceholder    = "@HOST_TO_BE_SUBSTITUTED@"
)

// RenderJob wraps the job body generated by the server with the
// interpreter line, the batch directives, the host environment and the
// task settings. Header values holding a '#' are batch directives and
// come first. OUTPUT and NAME header entries replace the directives of
// the backend.
func RenderJob(ts *TaskSettings, directives []string, body, env string) string {
	var sb strings.Builder
	sb.WriteString(ts.Interpreter + "\n")

	keys := sortedKeys(ts.Header)
	_, hasOutput := ts.Header["OUTPUT"]
	_, hasName := ts.Header["NAME"]

	sb.WriteString("\n# Batch commands\n")
	if !hasOutput && !hasName {
		for _, d := range directives {
			sb.WriteString(d + "\n")
		}
	}
	for _, k := range keys {
		if strings.Contains(ts.Header[k], "#") {
			sb.WriteString(ts.Header[k] + "\n")
		}
	}

	if env != "" {
		sb.WriteString("\n# Host specific environment settings:\n")
		sb.WriteString(env)
		if !strings.HasSuffix(env, "\n") {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n# Task specific settings:\n")
	for _, k := range keys {
		if !strings.Contains(ts.Header[k], "#") {
			sb.WriteString(ts.Header[k] + "\n")
		}
	}

	sb.WriteString("\n# Job script:\n")
	body = strings.ReplaceAll(body, WrapperPlaceholder, ts.Wrapper)
	body = strings.ReplaceAll(body, HostPlaceholder, ts.Host)
	sb.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	for _, line := range ts.Trailer {
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// WriteJobFile rewrites the job file of ts in place with RenderJob. The
// optional envFile is copied into the script. The file is replaced
// atomically and made executable.
func WriteJobFile(ts *TaskSettings, b Backend, envFile string) error {
	path := ts.JobFile()
	body, err := os.ReadFile(path)
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	var env []byte
	if envFile != "" {
		if env, err = os.ReadFile(envFile); err != nil {
			return cerrors.WrapError(cerrors.ErrIO, err, envFile)
		}
	}
	content := RenderJob(ts, b.Directives(), string(body), string(env))

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err := tmp.Chmod(0o755); err != nil {
		_ = tmp.Close()
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err := tmp.Close(); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	log.Info("job file written", zap.String("task", ts.Task), zap.String("path", path))
	return nil
}
