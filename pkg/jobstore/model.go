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

package jobstore

import (
	"time"
)

// Status is the last known state of a submitted job.
type Status string

// All job statuses.
const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
	StatusUnknown  Status = "unknown"
)

// IsTerminal reports whether a job in status s will never change again.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusAborted
}

// Record is the bookkeeping entry of the latest submission of one task.
type Record struct {
	TaskName   string `gorm:"column:task_name;type:varchar(255);primaryKey"`
	Backend    string `gorm:"column:backend;type:varchar(32);not null;index:idx_backend_job,priority:1"`
	JobID      string `gorm:"column:job_id;type:varchar(128);not null;index:idx_backend_job,priority:2"`
	Status     Status `gorm:"column:status;type:varchar(16);not null"`
	TryNo      int    `gorm:"column:try_no"`
	SubmitCmd  string `gorm:"column:submit_cmd;type:text"`
	OutputPath string `gorm:"column:output_path;type:text"`
	LogPath    string `gorm:"column:log_path;type:text"`
	// Supersedes is the job id of the record this one replaced.
	Supersedes string `gorm:"column:supersedes;type:varchar(128)"`
	// Revision increases on every write of the record.
	Revision  int64     `gorm:"column:revision;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

// TableName implements gorm's Tabler.
func (Record) TableName() string {
	return "job_records"
}

// Live reports whether the job may still be queued or running.
func (r *Record) Live() bool {
	return !r.Status.IsTerminal()
}
