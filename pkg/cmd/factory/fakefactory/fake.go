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

// Package fakefactory provides a command factory backed by an in-process
// workflow server and a scripted command runner.
package fakefactory

import (
	"context"
	"sync"

	"github.com/pingcap/jobflow/pkg/cmd/factory"
	"github.com/pingcap/jobflow/pkg/jobstore"
	"github.com/pingcap/jobflow/pkg/server"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/server/mockserver"
	"github.com/pingcap/jobflow/pkg/submission"
)

// Factory implements factory.Factory.
type Factory struct {
	Mock   *mockserver.Server
	Exec   *Runner
	// Session addresses the mock server, its port is reported by the
	// start command of the server.
	Session *client.Session

	mu      sync.Mutex
	configs []server.Config
}

var _ factory.Factory = (*Factory)(nil)

// New creates a factory around a fresh mock server.
func New() *Factory {
	s := client.NewSession("localhost", 3141)
	s.RetryBase = 1
	return &Factory{
		Mock:    mockserver.New(),
		Exec:    NewRunner(),
		Session: s,
	}
}

// GetSessionFile implements factory.ClientGetter.
func (f *Factory) GetSessionFile() string { return "" }

// GetLogLevel implements factory.ClientGetter.
func (f *Factory) GetLogLevel() string { return "info" }

// GetLogFile implements factory.ClientGetter.
func (f *Factory) GetLogFile() string { return "" }

// Server implements factory.Factory.
func (f *Factory) Server(cfg *server.Config) (*server.Server, error) {
	f.mu.Lock()
	f.configs = append(f.configs, *cfg)
	f.mu.Unlock()
	cli, err := client.New(f.Session, f.Mock.Transport())
	if err != nil {
		return nil, err
	}
	return server.New(cli, cfg, f.Exec)
}

// Configs returns the configurations passed to Server.
func (f *Factory) Configs() []server.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]server.Config(nil), f.configs...)
}

// JobStore implements factory.Factory.
func (f *Factory) JobStore(ctx context.Context, path string) (jobstore.Store, error) {
	return jobstore.Open(ctx, path)
}

// Runner implements factory.Factory.
func (f *Factory) Runner() submission.Runner {
	return f.Exec
}
