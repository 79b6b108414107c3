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
	"fmt"
	"sort"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/suite"
)

const (
	defaultBinary    = "jobflow"
	defaultExtension = ".py"
	defaultTries     = 1
)

// SuiteConfig holds the server side settings every suite carries.
type SuiteConfig struct {
	Name         string `toml:"name" json:"name"`
	JobOutDir    string `toml:"joboutdir" json:"joboutdir"`
	Files        string `toml:"ecf-files" json:"ecf-files"`
	Include      string `toml:"ecf-include" json:"ecf-include"`
	Home         string `toml:"ecf-home" json:"ecf-home"`
	Out          string `toml:"ecf-out" json:"ecf-out"`
	JobOut       string `toml:"ecf-jobout" json:"ecf-jobout"`
	Extension    string `toml:"ecf-extn" json:"ecf-extn"`
	Tries        int    `toml:"ecf-tries" json:"ecf-tries"`
	EnvSubmit    string `toml:"env-submit" json:"env-submit"`
	ServerConfig string `toml:"server-config" json:"server-config"`
	LogFile      string `toml:"log-file" json:"log-file"`
	// Binary is the jobflow executable the server runs for the job,
	// kill and status commands.
	Binary string `toml:"binary" json:"binary"`
}

// Adjust fills the optional fields from the required ones.
func (c *SuiteConfig) Adjust() {
	if c.Include == "" {
		c.Include = c.Files
	}
	if c.Home == "" {
		c.Home = c.JobOutDir
	}
	if c.Out == "" {
		c.Out = c.JobOutDir
	}
	if c.JobOut == "" {
		c.JobOut = c.JobOutDir + "/%ECF_NAME%.%ECF_TRYNO%"
	}
	if c.Extension == "" {
		c.Extension = defaultExtension
	}
	if c.Tries <= 0 {
		c.Tries = defaultTries
	}
	if c.Binary == "" {
		c.Binary = defaultBinary
	}
}

// Validate checks the required fields.
func (c *SuiteConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.JobOutDir, validation.Required),
		validation.Field(&c.Files, validation.Required),
		validation.Field(&c.EnvSubmit, validation.Required),
	)
	if err != nil {
		return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs("suite")
	}
	return nil
}

// JobCommand is the ECF_JOB_CMD of the suite.
func (c *SuiteConfig) JobCommand() string {
	return c.command("submit", false)
}

// KillCommand is the ECF_KILL_CMD of the suite.
func (c *SuiteConfig) KillCommand() string {
	return c.command("kill", true)
}

// StatusCommand is the ECF_STATUS_CMD of the suite.
func (c *SuiteConfig) StatusCommand() string {
	return c.command("status", true)
}

func (c *SuiteConfig) command(sub string, withSubmissionID bool) string {
	args := []string{
		c.Binary, sub,
		"--submit-config %ENV_SUBMIT%",
		"--joboutdir %ECF_OUT%",
		"--server %SERVER_CONFIG%",
		"--log %LOGFILE%",
		"--ecf-name %ECF_NAME%",
		"--ecf-tryno %ECF_TRYNO%",
		"--ecf-pass %ECF_PASS%",
		"--ecf-rid %ECF_RID%",
	}
	if withSubmissionID {
		args = append(args, "--submission-id %SUBMISSION_ID%")
	}
	return strings.Join(args, " ")
}

// NewSuiteDefinition creates a suite carrying the standard server
// variables of cfg.
func NewSuiteDefinition(cfg *SuiteConfig) (*suite.Node, error) {
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return suite.NewSuite(cfg.Name,
		suite.Var("ECF_EXTN", cfg.Extension),
		suite.Var("ECF_FILES", cfg.Files),
		suite.Var("ECF_INCLUDE", cfg.Include),
		suite.Var("ECF_TRIES", strconv.Itoa(cfg.Tries)),
		suite.Var("SUBMISSION_ID", ""),
		suite.Var("ECF_HOME", cfg.Home),
		suite.Var("ECF_KILL_CMD", cfg.KillCommand()),
		suite.Var("ECF_JOB_CMD", cfg.JobCommand()),
		suite.Var("ECF_STATUS_CMD", cfg.StatusCommand()),
		suite.Var("ECF_OUT", cfg.Out),
		suite.Var("ECF_JOBOUT", cfg.JobOut),
		suite.Var("ENV_SUBMIT", cfg.EnvSubmit),
		suite.Var("SERVER_CONFIG", cfg.ServerConfig),
		suite.Var("LOGFILE", cfg.LogFile),
	)
}

// NodeSpec describes a family or a task in a suite description file.
type NodeSpec struct {
	Name      string            `toml:"name" json:"name"`
	Kind      string            `toml:"kind" json:"kind"`
	Variables map[string]string `toml:"variables" json:"variables"`
	Trigger   string            `toml:"trigger" json:"trigger"`
	Complete  string            `toml:"complete" json:"complete"`
	DefStatus string            `toml:"defstatus" json:"defstatus"`
	Nodes     []NodeSpec        `toml:"node" json:"node"`
}

// SuiteSpec is a complete suite description file.
type SuiteSpec struct {
	SuiteConfig
	Variables map[string]string `toml:"variables" json:"variables"`
	Nodes     []NodeSpec        `toml:"node" json:"node"`
}

// BuildSuite creates the node tree described by spec.
func BuildSuite(spec *SuiteSpec) (*suite.Node, error) {
	s, err := NewSuiteDefinition(&spec.SuiteConfig)
	if err != nil {
		return nil, err
	}
	if err := addVariables(s, spec.Variables); err != nil {
		return nil, err
	}
	for i := range spec.Nodes {
		if err := addNode(s, &spec.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func addNode(parent *suite.Node, spec *NodeSpec) error {
	var (
		n   *suite.Node
		err error
	)
	kind := spec.Kind
	if kind == "" {
		// nodes with children default to families
		kind = "task"
		if len(spec.Nodes) > 0 {
			kind = "family"
		}
	}
	switch kind {
	case "family":
		n, err = parent.AddFamily(spec.Name)
	case "task":
		n, err = parent.AddTask(spec.Name)
	default:
		return cerrors.ErrDefinition.GenWithStackByArgs(
			parent.Path()+"/"+spec.Name, fmt.Sprintf("unknown node kind %q", spec.Kind))
	}
	if err != nil {
		return err
	}
	if err := addVariables(n, spec.Variables); err != nil {
		return err
	}
	if spec.Trigger != "" {
		if err := n.AddTrigger(spec.Trigger, suite.ModeAnd); err != nil {
			return err
		}
	}
	if spec.Complete != "" {
		if err := n.AddComplete(spec.Complete, suite.ModeAnd); err != nil {
			return err
		}
	}
	if spec.DefStatus != "" {
		st, err := suite.ParseState(spec.DefStatus)
		if err != nil {
			return cerrors.ErrDefinition.Wrap(err).GenWithStackByArgs(n.Path(), "bad defstatus")
		}
		if err := n.SetDefStatus(st); err != nil {
			return err
		}
	}
	for i := range spec.Nodes {
		if err := addNode(n, &spec.Nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

// addVariables adds vars sorted by name, decoded maps have no order.
func addVariables(n *suite.Node, vars map[string]string) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := n.AddVariable(name, vars[name]); err != nil {
			return err
		}
	}
	return nil
}
