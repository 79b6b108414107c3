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

package run

import (
	"context"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/taskrun"
	"github.com/pingcap/jobflow/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options defines flags for the `run` command.
type options struct {
	envFile string
	command string

	argv       []string
	identity   *taskrun.Identity
	runnerOpts []taskrun.RunnerOption
}

// newOptions creates new options for the `run` command.
func newOptions() *options {
	return &options{}
}

// addFlags binds the task environment file and the command to run.
func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.envFile, "env-file", "",
		"Dotenv file holding the job variables, the process environment is used when empty")
	cmd.Flags().StringVarP(&o.command, "command", "c", "",
		"Command line to run, used when no arguments follow --")
}

// complete adapts from the command line args to the data and client required.
func (o *options) complete(args []string) (err error) {
	o.argv = args
	if len(o.argv) == 0 && o.command != "" {
		if o.argv, err = shellwords.Parse(o.command); err != nil {
			return cerrors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("--command: " + err.Error())
		}
	}
	if o.envFile != "" {
		o.identity, err = taskrun.FromEnvFile(o.envFile)
	} else {
		o.identity, err = taskrun.FromEnv()
	}
	return err
}

// validate checks the command to run.
func (o *options) validate() error {
	if len(o.argv) == 0 {
		return cerrors.ErrInvalidArgument.GenWithStackByArgs("nothing to run, pass a command after -- or with --command")
	}
	return nil
}

// run runs the `run` command.
func (o *options) run(cmd *cobra.Command) error {
	version.LogVersionInfo(cmd.CommandPath())
	r, err := taskrun.NewRunner(o.identity, o.runnerOpts...)
	if err != nil {
		return err
	}
	return r.Run(cmd.Context(), func(ctx context.Context, task *taskrun.Task) error {
		child := exec.CommandContext(ctx, o.argv[0], o.argv[1:]...)
		child.Stdout = cmd.OutOrStdout()
		child.Stderr = cmd.ErrOrStderr()
		task.Logger.Info("running task command", zap.Strings("argv", o.argv))
		if err := child.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return errors.Errorf("%s exited with %d", o.argv[0], exitErr.ExitCode())
			}
			return errors.Trace(err)
		}
		return nil
	})
}

// NewCmdRun creates the `run` command. It reports the try of the task as
// active, runs the command and reports complete or abort by its exit code.
func NewCmdRun() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "run [-- command [args...]]",
		Short: "Run a command as the try of a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(args); err != nil {
				return err
			}
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
