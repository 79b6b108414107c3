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
	"github.com/fatih/color"
	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/cmd/util"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// statusOptions defines flags for the `status` command.
type statusOptions struct {
	taskOptions

	json bool
}

// newStatusOptions creates new options for the `status` command.
func newStatusOptions() *statusOptions {
	return &statusOptions{}
}

// addFlags binds the shared task flags, --submission-id and --json.
func (o *statusOptions) addFlags(cmd *cobra.Command) {
	o.taskOptions.addFlags(cmd)
	o.addSubmissionIDFlag(cmd)
	cmd.Flags().BoolVar(&o.json, "json", false, "Print the status as JSON")
}

type jobStatus struct {
	Task         string `json:"task"`
	TryNo        int    `json:"try_no"`
	SubmissionID string `json:"submission_id,omitempty"`
	Status       string `json:"status"`
}

// run runs the `status` command. The server is not contacted.
func (o *statusOptions) run(cmd *cobra.Command, f factory.Factory) (err error) {
	ctx := cmd.Context()
	if err := o.complete(ctx, f, false, false); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, o.close()) }()

	st, err := submission.StatusTask(ctx, o.settings, o.deps(), o.submissionID)
	if err != nil {
		return err
	}
	if o.json {
		return util.JSONPrint(cmd, &jobStatus{
			Task:         o.name,
			TryNo:        o.tryNo,
			SubmissionID: o.submissionID,
			Status:       string(st),
		})
	}
	cmd.Printf("%s: %s\n", o.name, statusColor(st).Sprint(st))
	return nil
}

func statusColor(st submission.JobStatus) *color.Color {
	switch st {
	case submission.StatusComplete:
		return color.New(color.FgGreen)
	case submission.StatusAborted:
		return color.New(color.FgRed)
	case submission.StatusRunning:
		return color.New(color.FgCyan)
	case submission.StatusQueued:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgYellow)
	}
}

// NewCmdStatus creates the `status` command, the ECF_STATUS_CMD of a suite.
func NewCmdStatus(f factory.Factory) *cobra.Command {
	o := newStatusOptions()

	command := &cobra.Command{
		Use:   "status",
		Short: "Query the backend for the job of a task",
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
