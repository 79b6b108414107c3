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

package job

import (
	"strings"

	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// submitOptions defines flags for the `submit` command.
type submitOptions struct {
	taskOptions

	envFile   string
	coldStart bool
}

// newSubmitOptions creates new options for the `submit` command.
func newSubmitOptions() *submitOptions {
	return &submitOptions{}
}

// addFlags binds the shared task flags, the job environment file and
// --coldstart.
func (o *submitOptions) addFlags(cmd *cobra.Command) {
	o.taskOptions.addFlags(cmd)
	cmd.Flags().StringVar(&o.envFile, "env-file", "", "Host environment settings copied into the job")
	cmd.Flags().BoolVar(&o.coldStart, "coldstart", false, "Apply the cold start only submit exceptions")
}

// run runs the `submit` command.
func (o *submitOptions) run(cmd *cobra.Command, f factory.Factory) (err error) {
	ctx := cmd.Context()
	if err := o.complete(ctx, f, o.coldStart, !o.dryRun); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, o.close()) }()
	lock, err := o.lockTask(ctx)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, lock.Unlock()) }()

	res, err := submission.SubmitTask(ctx, o.settings, o.deps(), o.updater(), submission.SubmitOptions{
		EnvFile: o.envFile,
		DryRun:  o.dryRun,
	})
	if err != nil {
		return err
	}
	switch {
	case o.dryRun:
		cmd.Printf("job file %s written, submit command: %s\n",
			o.settings.JobFile(), strings.Join(res.Command, " "))
	case res.Completed:
		cmd.Printf("%s\n", o.settings.CompleteReason)
	default:
		cmd.Printf("%s\n", res.JobID)
	}
	return nil
}

// NewCmdSubmit creates the `submit` command, the ECF_JOB_CMD of a suite.
func NewCmdSubmit(f factory.Factory) *cobra.Command {
	o := newSubmitOptions()

	command := &cobra.Command{
		Use:   "submit",
		Short: "Submit one try of a task to its backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd, f)
		},
	}

	o.addFlags(command)

	return command
}
