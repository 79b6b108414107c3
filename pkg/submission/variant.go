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
	"regexp"
	"strings"

	"github.com/pingcap/errors"
)

// variant describes the command line surface of one queue system.
type variant struct {
	kind   Kind
	prefix string
	// default command templates, the job id or job script is appended
	submit string
	status string
	kill   string
	// maxNameLen truncates job names, 0 means no limit
	maxNameLen int

	exportArgs  func(key, value string) []string
	jobID       func(stdout string) (string, error)
	parseStatus func(res *Result) (JobStatus, error)
	directives  func(prefix, output, name string) []string
}

var variants = map[Kind]*variant{
	KindBatch: {
		kind:        KindBatch,
		prefix:      "#",
		exportArgs:  exportWithV,
		jobID:       firstWordJobID,
		parseStatus: parseBatchStatus,
		directives:  pbsDirectives,
	},
	KindPBS: {
		kind:        KindPBS,
		prefix:      "#PBS",
		submit:      "qsub",
		status:      "qstat -j",
		kill:        "qdel",
		maxNameLen:  15,
		exportArgs:  exportWithV,
		jobID:       pbsJobID,
		parseStatus: parsePBSStatus,
		directives:  pbsDirectives,
	},
	KindSlurm: {
		kind:        KindSlurm,
		prefix:      "#SBATCH",
		submit:      "sbatch",
		status:      "squeue -h -o %T -j",
		kill:        "scancel",
		exportArgs:  func(k, v string) []string { return []string{"--export=" + k + "=" + v} },
		jobID:       slurmJobID,
		parseStatus: parseSlurmStatus,
		directives: func(prefix, output, name string) []string {
			return []string{
				prefix + " -o " + output,
				prefix + " -e " + output,
				prefix + " -J " + name,
			}
		},
	},
	KindGridEngine: {
		kind:        KindGridEngine,
		prefix:      "#$",
		submit:      "qsub",
		status:      "qstat -j",
		kill:        "qdel",
		exportArgs:  exportWithV,
		jobID:       gridEngineJobID,
		parseStatus: parseGridEngineStatus,
		directives: func(prefix, output, name string) []string {
			return []string{
				prefix + " -o " + output,
				prefix + " -e " + output,
				prefix + " -N " + name,
			}
		},
	},
}

func exportWithV(k, v string) []string {
	return []string{"-v", k + "=" + v}
}

func pbsDirectives(prefix, output, name string) []string {
	return []string{
		prefix + " -o " + output,
		prefix + " -e " + output,
		prefix + " -j oe",
		prefix + " -N " + name,
	}
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// firstWordJobID takes the first word of the first output line.
func firstWordJobID(stdout string) (string, error) {
	ls := lines(stdout)
	if len(ls) == 0 {
		return "", errors.New("no job id in empty output")
	}
	return strings.Fields(ls[0])[0], nil
}

// pbsJobID expects the last output line to be the job id alone.
func pbsJobID(stdout string) (string, error) {
	ls := lines(stdout)
	if len(ls) == 0 {
		return "", errors.New("no job id in empty output")
	}
	words := strings.Fields(ls[len(ls)-1])
	if len(words) != 1 {
		return "", errors.Errorf("expected 1 word in %q, got %d", ls[len(ls)-1], len(words))
	}
	return words[0], nil
}

// slurmJobID parses "Submitted batch job N" on the last output line.
func slurmJobID(stdout string) (string, error) {
	ls := lines(stdout)
	if len(ls) == 0 {
		return "", errors.New("no job id in empty output")
	}
	words := strings.Fields(ls[len(ls)-1])
	if len(words) != 4 || strings.Join(words[:3], " ") != "Submitted batch job" {
		return "", errors.Errorf("unexpected sbatch answer %q", ls[len(ls)-1])
	}
	return words[3], nil
}

var gridEngineSubmitted = regexp.MustCompile(`^Your job (\S+) \(.*\) has been submitted$`)

// gridEngineJobID parses `Your job N ("name") has been submitted`.
func gridEngineJobID(stdout string) (string, error) {
	for _, l := range lines(stdout) {
		if m := gridEngineSubmitted.FindStringSubmatch(l); m != nil {
			return m[1], nil
		}
	}
	return "", errors.Errorf("unexpected qsub answer %q", strings.TrimSpace(stdout))
}

func parseBatchStatus(res *Result) (JobStatus, error) {
	if res.ExitCode != 0 {
		return StatusUnknown, errors.Errorf("status command exited with code %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	ls := lines(res.Stdout)
	if len(ls) == 0 {
		return StatusUnknown, nil
	}
	word := strings.Fields(ls[0])[0]
	switch strings.ToLower(word) {
	case "queued", "q", "w", "h", "pending":
		return StatusQueued, nil
	case "running", "r", "e":
		return StatusRunning, nil
	case "complete", "completed", "c", "f":
		return StatusComplete, nil
	case "aborted", "failed", "a":
		return StatusAborted, nil
	case "unknown":
		return StatusUnknown, nil
	}
	return StatusUnknown, errors.Errorf("unrecognized status %q", word)
}

var jobStateLine = regexp.MustCompile(`^\s*job_state\s*(?:\d+:)?\s*=?\s*(\S+)`)

func parsePBSStatus(res *Result) (JobStatus, error) {
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr+res.Stdout, "Unknown Job Id") {
			// finished jobs leave the queue, the outcome is not known here
			return StatusUnknown, nil
		}
		return StatusUnknown, errors.Errorf("status command exited with code %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	for _, l := range strings.Split(res.Stdout, "\n") {
		m := jobStateLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		switch m[1] {
		case "Q", "H", "W", "T", "S":
			return StatusQueued, nil
		case "R", "E", "B":
			return StatusRunning, nil
		case "F", "C", "X":
			return StatusComplete, nil
		}
		return StatusUnknown, errors.Errorf("unrecognized job_state %q", m[1])
	}
	return StatusUnknown, errors.Errorf("no job_state in qstat output %q", strings.TrimSpace(res.Stdout))
}

func parseSlurmStatus(res *Result) (JobStatus, error) {
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "Invalid job id") {
			return StatusUnknown, nil
		}
		return StatusUnknown, errors.Errorf("status command exited with code %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	ls := lines(res.Stdout)
	if len(ls) == 0 {
		return StatusUnknown, nil
	}
	switch state := strings.Fields(ls[0])[0]; state {
	case "PENDING", "CONFIGURING", "SUSPENDED", "REQUEUED":
		return StatusQueued, nil
	case "RUNNING", "COMPLETING":
		return StatusRunning, nil
	case "COMPLETED":
		return StatusComplete, nil
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return StatusAborted, nil
	default:
		return StatusUnknown, errors.Errorf("unrecognized slurm state %q", state)
	}
}

func parseGridEngineStatus(res *Result) (JobStatus, error) {
	out := res.Stdout + res.Stderr
	if strings.Contains(out, "do not exist") {
		return StatusComplete, nil
	}
	if res.ExitCode != 0 {
		return StatusUnknown, errors.Errorf("status command exited with code %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	hasJob := false
	for _, l := range strings.Split(res.Stdout, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "job_number") {
			hasJob = true
		}
		m := jobStateLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		state := m[1]
		switch {
		case strings.Contains(state, "E"):
			return StatusAborted, nil
		case strings.Contains(state, "r"), strings.Contains(state, "t"), strings.Contains(state, "R"):
			return StatusRunning, nil
		default:
			return StatusQueued, nil
		}
	}
	if hasJob {
		return StatusQueued, nil
	}
	return StatusUnknown, errors.Errorf("unexpected qstat output %q", strings.TrimSpace(res.Stdout))
}
