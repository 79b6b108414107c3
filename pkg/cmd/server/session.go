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

package server

import (
	"os"

	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/spf13/cobra"
)

// sessionOptions defines flags for the `server session` command.
type sessionOptions struct {
	host       string
	port       int
	portOffset int
	logHost    string
	logPort    int
	output     string
}

// newSessionOptions creates new options for the `server session` command.
func newSessionOptions() *sessionOptions {
	return &sessionOptions{}
}

// addFlags binds the server address and the descriptor output path.
func (o *sessionOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.host, "host", "localhost", "Host of the workflow server")
	cmd.Flags().IntVar(&o.port, "port", os.Getuid(), "Base port of the workflow server")
	cmd.Flags().IntVar(&o.portOffset, "port-offset", client.DefaultPortOffset,
		"Offset added to the base port")
	cmd.Flags().StringVar(&o.logHost, "log-host", "", "Host of the log server")
	cmd.Flags().IntVar(&o.logPort, "log-port", 0, "Port of the log server")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Descriptor file to write")

	_ = cmd.MarkFlagRequired("output")
}

// run runs the `server session` command.
func (o *sessionOptions) run(cmd *cobra.Command) error {
	s := client.NewSession(o.host, o.port)
	s.PortOffset = o.portOffset
	s.LogHost = o.logHost
	s.LogPort = o.logPort
	if err := s.Validate(); err != nil {
		return err
	}
	if err := s.Save(o.output); err != nil {
		return err
	}
	cmd.Printf("server descriptor for %s written to %s\n", s.Addr(), o.output)
	return nil
}

// NewCmdSession creates the `server session` command.
func NewCmdSession() *cobra.Command {
	o := newSessionOptions()

	command := &cobra.Command{
		Use:   "session",
		Short: "Write the descriptor file the other commands read with --server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
