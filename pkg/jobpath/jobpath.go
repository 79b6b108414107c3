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

// Package jobpath names the files the workflow server and the submission
// commands exchange for one try of a task. Every name carries the try
// number so a retried task never overwrites the files of an earlier try.
package jobpath

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Base returns the common prefix of all files of task below dir, task is
// the full node path such as /S/F/A.
func Base(dir, task string) string {
	return filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(task, "/")))
}

// Job is the job script written by the server, <dir>/<task>.job<try>.
func Job(dir, task string, tryNo int) string {
	return Base(dir, task) + ".job" + strconv.Itoa(tryNo)
}

// Output is the job output, <dir>/<task>.<try>.
func Output(dir, task string, tryNo int) string {
	return Base(dir, task) + "." + strconv.Itoa(tryNo)
}

// SubmissionLog is the output of the submit command.
func SubmissionLog(dir, task string, tryNo int) string {
	return Job(dir, task, tryNo) + ".sub"
}

// StatusLog is the output of the status command.
func StatusLog(dir, task string, tryNo int) string {
	return Job(dir, task, tryNo) + ".stat"
}

// KillLog is the output of the kill command.
func KillLog(dir, task string, tryNo int) string {
	return Job(dir, task, tryNo) + ".kill"
}

// Split returns the task name and the family names of a node path.
func Split(task string) (name string, families []string) {
	parts := strings.Split(strings.Trim(task, "/"), "/")
	name = parts[len(parts)-1]
	if len(parts) > 2 {
		families = parts[1 : len(parts)-1]
	}
	return name, families
}
