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

package suite

import (
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/cmd/util"
	"github.com/pingcap/jobflow/pkg/defs"
	"github.com/pingcap/jobflow/pkg/server"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// options defines flags for the `suite` command.
type options struct {
	configPath string
	output     string
	load       bool
	begin      bool
	startCmd   string
	serverLog  string

	spec *defs.SuiteSpec
	def  *defs.Definition
}

// newOptions creates new options for the `suite` command.
func newOptions() *options {
	return &options{}
}

// addFlags binds the suite file, the definition output and the server
// options used by --load and --begin.
func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configPath, "config", "", "Suite description file (TOML)")
	cmd.Flags().StringVarP(&o.output, "output", "o", "",
		"Definition file to write, <joboutdir>/<suite>.def when empty")
	cmd.Flags().BoolVar(&o.load, "load", false, "Load the suite into the workflow server")
	cmd.Flags().BoolVar(&o.begin, "begin", false, "Begin the suite once loaded, implies --load")
	cmd.Flags().StringVar(&o.startCmd, "start-cmd", server.DefaultStartCmd,
		"Command starting the workflow server when it does not answer, {port} is replaced by its port")
	cmd.Flags().StringVar(&o.serverLog, "log", "", "Server log file the commands are appended to")

	_ = cmd.MarkFlagRequired("config")
}

// complete adapts from the command line args to the data and client required.
func (o *options) complete() error {
	o.spec = &defs.SuiteSpec{}
	if err := util.StrictDecodeFile(o.configPath, "suite", o.spec); err != nil {
		return err
	}
	s, err := defs.BuildSuite(o.spec)
	if err != nil {
		return err
	}
	if o.def, err = defs.Build(s); err != nil {
		return err
	}
	if o.output == "" {
		o.output = filepath.Join(o.spec.JobOutDir, o.spec.Name+".def")
	}
	if o.begin {
		o.load = true
	}
	return nil
}

// run runs the `suite` command.
func (o *options) run(cmd *cobra.Command, f factory.Factory) (err error) {
	if err := defs.SaveAsDefinitionFile(o.def, o.output); err != nil {
		return err
	}
	cmd.Printf("definition of suite %s written to %s\n", o.def.Suite(), o.output)
	if !o.load {
		return nil
	}

	srv, err := f.Server(&server.Config{StartCmd: o.startCmd, LogFile: o.serverLog})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { err = multierr.Append(err, srv.Close()) }()
	if err := srv.StartSuite(cmd.Context(), o.spec.Name, o.def, o.begin); err != nil {
		return err
	}
	log.Info("suite loaded",
		zap.String("suite", o.spec.Name),
		zap.Int("tasks", len(o.def.Tasks())),
		zap.Bool("begun", o.begin))
	if o.begin {
		cmd.Printf("suite %s loaded and begun\n", o.spec.Name)
	} else {
		cmd.Printf("suite %s loaded\n", o.spec.Name)
	}
	return nil
}

// NewCmdSuite creates the `suite` command.
func NewCmdSuite(f factory.Factory) *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "suite",
		Short: "Build a suite definition from a description file and load it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(); err != nil {
				return err
			}
			return o.run(cmd, f)
		},
	}

	o.addFlags(command)

	return command
}
