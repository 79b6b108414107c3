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
	"context"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pingcap/jobflow/pkg/cmd/factory"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/filelock"
	"github.com/pingcap/jobflow/pkg/jobstore"
	"github.com/pingcap/jobflow/pkg/server"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const (
	stateDir         = ".jobflow"
	defaultStoreFile = stateDir + "/jobs.db"
)

// taskOptions are the flags shared by the job, kill and status commands
// the workflow server runs for a task.
type taskOptions struct {
	submitConfig    string
	jobOutDir       string
	jobOutDirAtHost string
	serverLog       string
	name            string
	tryNo           int
	password        string
	remoteID        string
	submissionID    string
	storePath       string
	dryRun          bool

	settings *submission.TaskSettings
	store    jobstore.Store
	server   *server.Server
	runner   submission.Runner
}

// addFlags binds the submission settings file, the job output
// directories and the task identity the server passes to its commands.
func (o *taskOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.submitConfig, "submit-config", "", "Submission settings file (TOML, JSON or YAML)")
	cmd.Flags().StringVar(&o.jobOutDir, "joboutdir", "", "Job output directory of the server host")
	cmd.Flags().StringVar(&o.jobOutDirAtHost, "joboutdir-at-host", "",
		"Job output directory as seen from the remote host, same as --joboutdir when empty")
	cmd.Flags().StringVar(&o.serverLog, "log", "", "Server log file the commands are appended to")
	cmd.Flags().StringVar(&o.name, "ecf-name", "", "Full path of the task, /suite/family/task")
	cmd.Flags().IntVar(&o.tryNo, "ecf-tryno", 1, "Try number of the task")
	cmd.Flags().StringVar(&o.password, "ecf-pass", "", "Job password of the try")
	cmd.Flags().StringVar(&o.remoteID, "ecf-rid", "", "Remote id of the try")
	cmd.Flags().StringVar(&o.storePath, "job-store", "",
		"Job record store, <joboutdir>/"+defaultStoreFile+" when empty")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Print what would be done without doing it")

	_ = cmd.MarkFlagRequired("submit-config")
	_ = cmd.MarkFlagRequired("joboutdir")
	_ = cmd.MarkFlagRequired("ecf-name")
}

// addSubmissionIDFlag binds --submission-id, the job id the server
// recorded for the task.
func (o *taskOptions) addSubmissionIDFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.submissionID, "submission-id", "",
		"Job id of the task, the recorded job is used when empty")
}

// validate checks the flags before anything is opened.
func (o *taskOptions) validate() error {
	err := validation.Errors{
		"submit-config": validation.Validate(o.submitConfig, validation.Required),
		"joboutdir":     validation.Validate(o.jobOutDir, validation.Required),
		"ecf-name":      validation.Validate(o.name, validation.Required),
		"ecf-tryno":     validation.Validate(o.tryNo, validation.Min(1)),
	}.Filter()
	if err != nil {
		return cerrors.ErrInvalidArgument.GenWithStackByArgs(err.Error())
	}
	return nil
}

// complete adapts from the command line args to the data and client required.
// A server is only created when withServer is set.
func (o *taskOptions) complete(ctx context.Context, f factory.Factory, coldStart, withServer bool) error {
	defs, err := submission.LoadDefinitions(o.submitConfig)
	if err != nil {
		return err
	}
	atHost := o.jobOutDirAtHost
	if atHost == "" {
		atHost = o.jobOutDir
	}
	dirs := submission.JobOutDirs{"0": o.jobOutDir, "1": atHost}
	if o.settings, err = defs.Resolve(o.name, o.tryNo, dirs, coldStart); err != nil {
		return err
	}

	storePath := o.storePath
	if storePath == "" {
		storePath = filepath.Join(o.jobOutDir, defaultStoreFile)
	}
	if o.store, err = f.JobStore(ctx, storePath); err != nil {
		return err
	}
	o.runner = f.Runner()
	if withServer {
		if o.server, err = f.Server(&server.Config{LogFile: o.serverLog}); err != nil {
			return multierr.Append(err, o.close())
		}
	}
	return nil
}

// lockTask keeps other submit and kill commands of the same task out
// until the lock is released.
func (o *taskOptions) lockTask(ctx context.Context) (*filelock.SimpleFileLock, error) {
	path := filepath.Join(o.jobOutDir, stateDir, "locks", strings.TrimPrefix(o.name, "/")+".lock")
	return filelock.NewSimpleFileLock(ctx, path)
}

func (o *taskOptions) deps() submission.Deps {
	return submission.Deps{Store: o.store, Runner: o.runner}
}

// updater returns the server as a submission.ServerUpdater, nil when no
// server was opened.
func (o *taskOptions) updater() submission.ServerUpdater {
	if o.server == nil {
		return nil
	}
	return o.server
}

func (o *taskOptions) close() error {
	var err error
	if o.server != nil {
		err = multierr.Append(err, o.server.Close())
		o.server = nil
	}
	if o.store != nil {
		err = multierr.Append(err, o.store.Close())
		o.store = nil
	}
	return err
}
