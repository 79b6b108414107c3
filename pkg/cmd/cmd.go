// Copyright 2021 PingCAP, Inc.
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

package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/cmd/job"
	"github.com/pingcap/jobflow/pkg/cmd/run"
	"github.com/pingcap/jobflow/pkg/cmd/server"
	"github.com/pingcap/jobflow/pkg/cmd/suite"
	"github.com/pingcap/jobflow/pkg/cmd/util"
	"github.com/pingcap/jobflow/pkg/logutil"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// rootOptions are the flags every command carries.
type rootOptions struct {
	*factory.ClientFlags
	metricsFile string

	registry *prometheus.Registry
}

// addFlags binds the metrics file written after a successful command.
func (o *rootOptions) addFlags(cmd *cobra.Command) {
	o.ClientFlags.AddFlags(cmd)
	cmd.PersistentFlags().StringVar(&o.metricsFile, "metrics-file", "",
		"Write the metrics of the command to this file in the text exposition format")
}

// preRun initializes the logger and the metrics of a command.
func (o *rootOptions) preRun(cmd *cobra.Command) {
	util.InitCmd(cmd, &logutil.Config{Level: o.GetLogLevel(), File: o.GetLogFile()})
	if o.metricsFile == "" {
		return
	}
	o.registry = prometheus.NewRegistry()
	submission.InitMetrics(o.registry)
	client.InitMetrics(o.registry)
}

// postRun writes the metrics once a command succeeded.
func (o *rootOptions) postRun() error {
	if o.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(o.metricsFile, o.registry); err != nil {
		log.Warn("write metrics failed", zap.String("file", o.metricsFile), zap.Error(err))
		return err
	}
	return nil
}

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	o := &rootOptions{ClientFlags: factory.NewClientFlags()}
	f := factory.NewFactory(o.ClientFlags)

	cmd := &cobra.Command{
		Use:   "jobflow",
		Short: "Submit, watch and kill the jobs of a workflow server",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			o.preRun(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return o.postRun()
		},
	}
	o.addFlags(cmd)

	cmd.AddCommand(job.NewCmdSubmit(f))
	cmd.AddCommand(job.NewCmdKill(f))
	cmd.AddCommand(job.NewCmdStatus(f))
	cmd.AddCommand(suite.NewCmdSuite(f))
	cmd.AddCommand(server.NewCmdServer(f))
	cmd.AddCommand(run.NewCmdRun())
	cmd.AddCommand(newCmdVersion())
	return cmd
}

// Run runs the root command. SIGINT and SIGTERM cancel the context of the
// command.
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	cmd := NewCmd()
	cmd.SetOut(os.Stdout)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cmd.PrintErrln(color.RedString("Error: %s", err))
		os.Exit(1)
	}
}
