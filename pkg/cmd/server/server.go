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

package server

import (
	"time"

	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/cmd/util"
	"github.com/pingcap/jobflow/pkg/server"
	"github.com/pingcap/jobflow/pkg/version"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// startOptions defines flags for the `server start` command.
type startOptions struct {
	configFilePath string
	serverConfig   server.Config
}

// newStartOptions creates new options for the `server start` command.
func newStartOptions() *startOptions {
	return &startOptions{}
}

// addFlags binds the start command, its retries and the server config file.
func (o *startOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.serverConfig.StartCmd, "start-cmd", server.DefaultStartCmd,
		"Command starting the workflow server, {port} is replaced by its port")
	cmd.Flags().StringVar(&o.serverConfig.LogFile, "log", "", "Server log file the commands are appended to")
	cmd.Flags().IntVar(&o.serverConfig.StartRetries, "start-retries", 5,
		"Pings sent to the server after running the start command")
	cmd.Flags().DurationVar(&o.serverConfig.StartRetryBase, "start-retry-base", time.Second,
		"First delay between the pings, it doubles on every retry")
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
}

// loadServerConfig merges the configuration file with the flags set on
// the command line, the flags win.
func (o *startOptions) loadServerConfig(cmd *cobra.Command) (*server.Config, error) {
	conf := &server.Config{}
	if len(o.configFilePath) > 0 {
		if err := util.StrictDecodeFile(o.configFilePath, "workflow server", conf); err != nil {
			return nil, err
		}
	}
	local := cmd.LocalFlags()
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		if local.Lookup(flag.Name) == nil {
			// inherited from the root command
			return
		}
		switch flag.Name {
		case "start-cmd":
			conf.StartCmd = o.serverConfig.StartCmd
		case "log":
			conf.LogFile = o.serverConfig.LogFile
		case "start-retries":
			conf.StartRetries = o.serverConfig.StartRetries
		case "start-retry-base":
			conf.StartRetryBase = o.serverConfig.StartRetryBase
		case "config":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	conf.Adjust()
	return conf, nil
}

// run runs the `server start` command.
func (o *startOptions) run(cmd *cobra.Command, f factory.Factory) (err error) {
	conf, err := o.loadServerConfig(cmd)
	if err != nil {
		return errors.Trace(err)
	}
	version.LogVersionInfo(cmd.CommandPath())

	srv, err := f.Server(conf)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { err = multierr.Append(err, srv.Close()) }()
	util.LogHTTPProxies(srv.Client().Session().Addr())
	if err := srv.StartServer(cmd.Context()); err != nil {
		return err
	}
	cmd.Printf("workflow server %s is running\n", srv.Client().Session().Addr())
	return nil
}

// NewCmdStart creates the `server start` command.
func NewCmdStart(f factory.Factory) *cobra.Command {
	o := newStartOptions()

	command := &cobra.Command{
		Use:   "start",
		Short: "Start the workflow server unless it already answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, f)
		},
	}

	o.addFlags(command)

	return command
}

// NewCmdPing creates the `server ping` command.
func NewCmdPing(f factory.Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the workflow server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			srv, err := f.Server(&server.Config{})
			if err != nil {
				return errors.Trace(err)
			}
			defer func() { err = multierr.Append(err, srv.Close()) }()
			addr := srv.Client().Session().Addr()
			if err := srv.Client().Connect(cmd.Context()); err != nil {
				cmd.Printf("%s %s\n", addr, color.RedString("does not answer"))
				return err
			}
			cmd.Printf("%s %s\n", addr, color.GreenString("is alive"))
			return nil
		},
	}
}

// NewCmdServer creates the `server` command.
func NewCmdServer(f factory.Factory) *cobra.Command {
	command := &cobra.Command{
		Use:   "server",
		Short: "Manage the workflow server",
	}
	command.AddCommand(NewCmdStart(f))
	command.AddCommand(NewCmdPing(f))
	command.AddCommand(NewCmdSession())
	return command
}
