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

package client

import "context"

// Command names of the workflow server protocol.
const (
	CmdInit       = "init"
	CmdComplete   = "complete"
	CmdAbort      = "abort"
	CmdEvent      = "event"
	CmdMeter      = "meter"
	CmdLabel      = "label"
	CmdPing       = "ping"
	CmdNodeState  = "node-state"
	CmdAlter      = "alter"
	CmdReplace    = "replace"
	CmdDelete     = "delete"
	CmdRequeue    = "requeue"
	CmdForceState = "force-state"
	CmdBegin      = "begin"
)

// Child identifies the try of a task sending child commands.
type Child struct {
	Path     string `json:"path"`
	Password string `json:"password"`
	RemoteID string `json:"rid"`
	TryNo    int    `json:"try_no"`
}

// Request is one command sent to the server. The ID stays the same for
// every attempt of a command so that the server can drop duplicates.
type Request struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Path    string            `json:"path,omitempty"`
	Child   *Child            `json:"child,omitempty"`
	Args    map[string]string `json:"args,omitempty"`
}

// Response is the answer of the server. A request the server refused has
// OK unset and the reason in Error.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	State string `json:"state,omitempty"`
}

// Transport carries requests to the server.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	Close() error
}
