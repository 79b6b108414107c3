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

package factory

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/jobstore"
	"github.com/pingcap/jobflow/pkg/server"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/server/transport"
	"github.com/pingcap/jobflow/pkg/submission"
	"github.com/spf13/cobra"
)

// Factory defines the client-side construction factory.
type Factory interface {
	ClientGetter
	// Server returns the facade of the server described by the session
	// file. It connects on first use.
	Server(cfg *server.Config) (*server.Server, error)
	// JobStore opens the job record store at path.
	JobStore(ctx context.Context, path string) (jobstore.Store, error)
	// Runner runs the backend commands.
	Runner() submission.Runner
}

// ClientGetter defines the client getter.
type ClientGetter interface {
	GetSessionFile() string
	GetLogLevel() string
	GetLogFile() string
}

// ClientFlags specifies the parameters needed to construct the client.
type ClientFlags struct {
	sessionFile string
	logLevel    string
	logFile     string
}

var _ ClientGetter = &ClientFlags{}

// NewClientFlags creates new client flags.
func NewClientFlags() *ClientFlags {
	return &ClientFlags{}
}

// AddFlags binds the server descriptor and the log flags as persistent
// flags of cmd.
func (c *ClientFlags) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.sessionFile, "server", "",
		"Workflow server descriptor file (ECF_HOST, ECF_PORT, ECF_PORT_OFFSET)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info",
		"log level (etc: debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&c.logFile, "log-file", "",
		"log file path, standard error when empty")
}

// GetSessionFile returns the path of the server descriptor.
func (c *ClientFlags) GetSessionFile() string {
	return c.sessionFile
}

// GetLogLevel returns log level.
func (c *ClientFlags) GetLogLevel() string {
	return c.logLevel
}

// GetLogFile returns the log file of the command.
func (c *ClientFlags) GetLogFile() string {
	return c.logFile
}

type factoryImpl struct {
	ClientGetter
}

// NewFactory creates a client build factory.
func NewFactory(c ClientGetter) Factory {
	return &factoryImpl{ClientGetter: c}
}

func (f *factoryImpl) Server(cfg *server.Config) (*server.Server, error) {
	path := f.GetSessionFile()
	if path == "" {
		return nil, errors.New("a server descriptor is required, use --server")
	}
	session, err := client.LoadSession(path)
	if err != nil {
		return nil, err
	}
	cli, err := client.New(session, transport.New(session))
	if err != nil {
		return nil, err
	}
	return server.New(cli, cfg, f.Runner())
}

func (f *factoryImpl) JobStore(ctx context.Context, path string) (jobstore.Store, error) {
	return jobstore.Open(ctx, path)
}

func (f *factoryImpl) Runner() submission.Runner {
	return submission.NewExecRunner()
}
