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
	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// killOptions defines flags for the `kill` command.
type killOptions struct {
	taskOptions
}

// newKillOptions creates new options for the `kill` command.
func newKillOptions() *killOptions {
	return &killOptions{}
}

// addFlags binds the shared task flags and --submission-id.
func (o *killOptions) addFlags(cmd *cobra.Command) {
	o.taskOptions.addFlags(cmd)
	o.addSubmissionIDFlag(cmd)
}

// run runs the `kill` command.
func (o *killOptions) run(cmd *cobra.Command, f factory.Factory) (err error) {
	ctx := cmd.Context()
	if err := o.complete(ctx, f, false, !o.dryRun); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, o.close()) }()
	lock, err := o.lockTask(ctx)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, lock.Unlock()) }()

	if err := submission.KillTask(ctx, o.settings, o.deps(), o.updater(), o.submissionID, o.dryRun); err != nil {
		return err
	}
	if !o.dryRun {
		cmd.Printf("%s killed\n", o.name)
	}
	return nil
}

// NewCmdKill creates the `kill` command, the ECF_KILL_CMD of a suite.
func NewCmdKill(f factory.Factory) *cobra.Command {
	o := newKillOptions()

	command := &cobra.Command{
		Use:   "kill",
		Short: "Cancel the job of a task and mark the task aborted",
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
