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
	"strings"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/jobstore"
)

// Kind tags a submission backend.
type Kind string

// All backend kinds.
const (
	KindBackground Kind = "background"
	KindBatch      Kind = "batch"
	KindPBS        Kind = "pbs"
	KindSlurm      Kind = "slurm"
	KindGridEngine Kind = "gridengine"
)

// ParseKind maps a submit type name to a Kind. Names are case insensitive
// and "grid_engine" is accepted for KindGridEngine.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "background", "":
		return KindBackground, nil
	case "batch":
		return KindBatch, nil
	case "pbs":
		return KindPBS, nil
	case "slurm":
		return KindSlurm, nil
	case "gridengine", "grid_engine", "sge":
		return KindGridEngine, nil
	}
	return "", cerrors.ErrUnknownBackend.GenWithStackByArgs(s)
}

// JobStatus is the state of a job as reported by its backend.
type JobStatus = jobstore.Status

// Job statuses, see jobstore.
const (
	StatusQueued   = jobstore.StatusQueued
	StatusRunning  = jobstore.StatusRunning
	StatusComplete = jobstore.StatusComplete
	StatusAborted  = jobstore.StatusAborted
	StatusUnknown  = jobstore.StatusUnknown
)
