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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
	"github.com/imdario/mergo"
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/jobpath"
	"gopkg.in/yaml.v3"
)

// Keys of a submit type block with a meaning of their own. Every other
// scalar key is a header line of the job script.
const (
	keySubmitType      = "SUBMIT_TYPE"
	keySSH             = "SSH"
	keyInterpreter     = "INTERPRETER"
	keySubmitVariables = "SUBMIT_VARIABLES"
	keyWrapper         = "WRAPPER"
	keyHost            = "HOST"
	keyTrailer         = "TRAILER"
	keySubmitCmd       = "SUBMIT_CMD"
	keyStatusCmd       = "STATUS_CMD"
	keyKillCmd         = "KILL_CMD"
	keyPrefix          = "PREFIX"
	keyTasks           = "tasks"

	// DefaultInterpreter is the first line of generated job scripts.
	DefaultInterpreter = "#!/usr/bin/env python3"
)

// SubmitException marks a task or a family as complete instead of being
// submitted.
type SubmitException struct {
	Complete      bool `toml:"complete" json:"complete"`
	ColdStartOnly bool `toml:"coldstart_only" json:"coldstart_only"`
}

// Definitions is a parsed submission definition file.
type Definitions struct {
	SubmitTypes       []string
	DefaultSubmitType string
	// Types holds the settings block of every submit type.
	Types            map[string]map[string]interface{}
	TaskExceptions   map[string]map[string]interface{}
	SubmitExceptions map[string]SubmitException
}

// LoadDefinitions reads a submission definition file, JSON when the file
// name ends with .json and TOML otherwise.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	raw := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		_, err = toml.Decode(string(data), &raw)
	}
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrConfig, err, "decode submission definitions "+path)
	}
	return ParseDefinitions(raw)
}

// ParseDefinitions interprets a decoded submission definition document.
func ParseDefinitions(raw map[string]interface{}) (*Definitions, error) {
	d := &Definitions{
		Types:            make(map[string]map[string]interface{}),
		TaskExceptions:   make(map[string]map[string]interface{}),
		SubmitExceptions: make(map[string]SubmitException),
	}
	for key, value := range raw {
		switch key {
		case "submit_types":
			types, err := toStrings(value)
			if err != nil {
				return nil, cerrors.ErrConfig.Wrap(err).GenWithStackByArgs("submit_types")
			}
			d.SubmitTypes = types
		case "default_submit_type":
			d.DefaultSubmitType = fmt.Sprint(value)
		case "task_exceptions":
			m, ok := value.(map[string]interface{})
			if !ok {
				return nil, cerrors.ErrConfig.GenWithStackByArgs("task_exceptions must be a table")
			}
			for task, settings := range m {
				sm, ok := settings.(map[string]interface{})
				if !ok {
					return nil, cerrors.ErrConfig.GenWithStackByArgs("task_exceptions." + task + " must be a table")
				}
				d.TaskExceptions[task] = sm
			}
		case "submit_exceptions":
			m, ok := value.(map[string]interface{})
			if !ok {
				return nil, cerrors.ErrConfig.GenWithStackByArgs("submit_exceptions must be a table")
			}
			for node, v := range m {
				sm, _ := v.(map[string]interface{})
				complete, _ := sm["complete"].(bool)
				coldStartOnly, _ := sm["coldstart_only"].(bool)
				d.SubmitExceptions[node] = SubmitException{Complete: complete, ColdStartOnly: coldStartOnly}
			}
		default:
			if m, ok := value.(map[string]interface{}); ok {
				d.Types[key] = m
			}
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the submit type list.
func (d *Definitions) Validate() error {
	types := make([]interface{}, 0, len(d.SubmitTypes))
	for _, t := range d.SubmitTypes {
		types = append(types, t)
	}
	err := validation.ValidateStruct(d,
		validation.Field(&d.SubmitTypes, validation.Required),
		validation.Field(&d.DefaultSubmitType, validation.Required, validation.In(types...)),
	)
	if err != nil {
		return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(err.Error())
	}
	return nil
}

// JobOutDirs maps a host number to the job output directory as seen
// from that host. Host "0" is where the server and the submit commands
// run.
type JobOutDirs map[string]string

// TaskSettings are the resolved submission settings of one try of a task.
type TaskSettings struct {
	// Task is the full node path, /S/F/A.
	Task  string
	TryNo int

	TypeName        string
	SubmitType      Kind
	Host            string
	Interpreter     string
	Remote          string
	Wrapper         string
	Trailer         []string
	SubmitVariables map[string]string
	Header          map[string]string

	// Command templates of the generic batch backend.
	SubmitCmd string
	StatusCmd string
	KillCmd   string
	Prefix    string

	// Complete is set when a submit exception applies, the task is then
	// marked complete instead of being submitted.
	Complete       bool
	CompleteReason string
	ColdStart      bool

	JobOutDir       string
	JobOutDirAtHost string
}

// Resolve computes the settings of one try of task. A task listed in the
// tasks of a submit type uses that type, other tasks the default type.
// Task exceptions are merged over the type settings.
func (d *Definitions) Resolve(task string, tryNo int, dirs JobOutDirs, coldStart bool) (*TaskSettings, error) {
	name, families := jobpath.Split(task)

	typeName := ""
	for _, t := range d.SubmitTypes {
		tasks, _ := toStrings(d.Types[t][keyTasks])
		for _, tn := range tasks {
			if tn == name {
				typeName = t
			}
		}
	}
	if typeName == "" {
		typeName = d.DefaultSubmitType
	}

	settings := make(map[string]interface{}, len(d.Types[typeName]))
	for k, v := range d.Types[typeName] {
		if k != keyTasks {
			settings[k] = v
		}
	}
	if exc, ok := d.TaskExceptions[name]; ok {
		if err := mergo.Merge(&settings, exc, mergo.WithOverride); err != nil {
			return nil, cerrors.ErrConfig.Wrap(err).GenWithStackByArgs("task_exceptions." + name)
		}
	}

	ts := &TaskSettings{
		Task:            task,
		TryNo:           tryNo,
		TypeName:        typeName,
		SubmitType:      KindBackground,
		Interpreter:     DefaultInterpreter,
		SubmitVariables: make(map[string]string),
		Header:          make(map[string]string),
		ColdStart:       coldStart,
	}
	if err := ts.apply(settings); err != nil {
		return nil, err
	}

	for _, node := range append([]string{name}, families...) {
		exc, ok := d.SubmitExceptions[node]
		if !ok || !exc.Complete || (exc.ColdStartOnly && !coldStart) {
			continue
		}
		ts.Complete = true
		if node == name {
			ts.CompleteReason = fmt.Sprintf("Task %s complete due to submit exception", node)
		} else {
			ts.CompleteReason = fmt.Sprintf("Family %s complete due to submit exception", node)
		}
		break
	}

	var ok bool
	if ts.JobOutDir, ok = dirs["0"]; !ok {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("no job output directory for host 0")
	}
	if ts.JobOutDirAtHost, ok = dirs[ts.Host]; !ok {
		return nil, cerrors.ErrConfig.GenWithStackByArgs("no job output directory for host " + ts.Host)
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *TaskSettings) apply(settings map[string]interface{}) error {
	for key, value := range settings {
		var err error
		switch key {
		case keySubmitType:
			if s := fmt.Sprint(value); s != "" {
				ts.SubmitType, err = ParseKind(s)
			}
		case keySSH:
			ts.Remote = fmt.Sprint(value)
		case keyInterpreter:
			ts.Interpreter = fmt.Sprint(value)
		case keyWrapper:
			ts.Wrapper = fmt.Sprint(value)
		case keyHost:
			ts.Host = fmt.Sprint(value)
		case keyTrailer:
			ts.Trailer, err = toStrings(value)
		case keySubmitVariables:
			m, ok := value.(map[string]interface{})
			if !ok {
				err = errors.Errorf("%s must be a table", keySubmitVariables)
				break
			}
			for k, v := range m {
				ts.SubmitVariables[k] = fmt.Sprint(v)
			}
		case keySubmitCmd:
			ts.SubmitCmd = fmt.Sprint(value)
		case keyStatusCmd:
			ts.StatusCmd = fmt.Sprint(value)
		case keyKillCmd:
			ts.KillCmd = fmt.Sprint(value)
		case keyPrefix:
			ts.Prefix = fmt.Sprint(value)
		default:
			// nested tables are not header lines
			if _, ok := value.(map[string]interface{}); !ok {
				ts.Header[key] = fmt.Sprint(value)
			}
		}
		if err != nil {
			if cerrors.IsConfigError(err) {
				return err
			}
			return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(key)
		}
	}
	return nil
}

// Validate checks the resolved settings.
func (ts *TaskSettings) Validate() error {
	err := validation.ValidateStruct(ts,
		validation.Field(&ts.Task, validation.Required),
		validation.Field(&ts.TryNo, validation.Min(1)),
		validation.Field(&ts.Host, validation.Required, validation.In("0", "1")),
		validation.Field(&ts.Interpreter, validation.Required),
		validation.Field(&ts.SubmitCmd, validation.When(ts.SubmitType == KindBatch, validation.Required)),
	)
	if err != nil {
		return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(fmt.Sprintf("task %s: %s", ts.Task, err))
	}
	return nil
}

// Name is the last component of the task path.
func (ts *TaskSettings) Name() string {
	name, _ := jobpath.Split(ts.Task)
	return name
}

// JobFile is the job script on host 0.
func (ts *TaskSettings) JobFile() string { return jobpath.Job(ts.JobOutDir, ts.Task, ts.TryNo) }

// JobFileAtHost is the job script as seen by the execution host.
func (ts *TaskSettings) JobFileAtHost() string {
	return jobpath.Job(ts.JobOutDirAtHost, ts.Task, ts.TryNo)
}

// Output is the job output on host 0.
func (ts *TaskSettings) Output() string { return jobpath.Output(ts.JobOutDir, ts.Task, ts.TryNo) }

// OutputAtHost is the job output as seen by the execution host.
func (ts *TaskSettings) OutputAtHost() string {
	return jobpath.Output(ts.JobOutDirAtHost, ts.Task, ts.TryNo)
}

// SubmissionLog is the output file of the submit command.
func (ts *TaskSettings) SubmissionLog() string {
	return jobpath.SubmissionLog(ts.JobOutDir, ts.Task, ts.TryNo)
}

// StatusLog is the output file of the status command.
func (ts *TaskSettings) StatusLog() string {
	return jobpath.StatusLog(ts.JobOutDir, ts.Task, ts.TryNo)
}

// KillLog is the output file of the kill command.
func (ts *TaskSettings) KillLog() string {
	return jobpath.KillLog(ts.JobOutDir, ts.Task, ts.TryNo)
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toStrings(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	}
	return nil, errors.Errorf("expect a list of strings, got %T", v)
}
