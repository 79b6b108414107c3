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

import (
	"context"
	"strconv"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/suite"
)

// Alter operations and kinds used by the facade.
const (
	AlterAdd    = "add"
	AlterChange = "change"
	AlterDelete = "delete"

	AlterKindVariable = "variable"
)

func (c *Client) childRequest(command string, args map[string]string) (*Request, error) {
	child := c.child.Load()
	if child == nil {
		return nil, cerrors.ErrInvalidArgument.GenWithStackByArgs(command + " needs init first")
	}
	return &Request{Command: command, Path: child.Path, Child: child, Args: args}, nil
}

func (c *Client) sendChild(ctx context.Context, command string, args map[string]string) error {
	req, err := c.childRequest(command, args)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, req)
	return err
}

// Init registers the try of a task as active. Later child commands are
// sent on behalf of child.
func (c *Client) Init(ctx context.Context, child Child) error {
	if child.Path == "" {
		return cerrors.ErrInvalidArgument.GenWithStackByArgs("init needs a task path")
	}
	if _, err := c.send(ctx, &Request{Command: CmdInit, Path: child.Path, Child: &child}); err != nil {
		return err
	}
	c.child.Store(&child)
	return nil
}

// Complete marks the task of the client complete.
func (c *Client) Complete(ctx context.Context) error {
	return c.sendChild(ctx, CmdComplete, nil)
}

// Abort marks the task of the client aborted.
func (c *Client) Abort(ctx context.Context, reason string) error {
	return c.sendChild(ctx, CmdAbort, map[string]string{"reason": reason})
}

// Event sets or clears an event of the task.
func (c *Client) Event(ctx context.Context, name string, set bool) error {
	return c.sendChild(ctx, CmdEvent, map[string]string{"name": name, "value": strconv.FormatBool(set)})
}

// Meter updates a meter of the task.
func (c *Client) Meter(ctx context.Context, name string, value int) error {
	return c.sendChild(ctx, CmdMeter, map[string]string{"name": name, "value": strconv.Itoa(value)})
}

// Label updates a label of the task.
func (c *Client) Label(ctx context.Context, name, text string) error {
	return c.sendChild(ctx, CmdLabel, map[string]string{"name": name, "value": text})
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, &Request{Command: CmdPing})
	return err
}

// NodeState queries the state of a node.
func (c *Client) NodeState(ctx context.Context, path string) (suite.State, error) {
	resp, err := c.send(ctx, &Request{Command: CmdNodeState, Path: path})
	if err != nil {
		return suite.StateUnknown, err
	}
	st, err := suite.ParseState(resp.State)
	if err != nil {
		return suite.StateUnknown, cerrors.ErrServerRejected.Wrap(err).GenWithStackByArgs(CmdNodeState, "bad state "+resp.State)
	}
	return st, nil
}

// Alter changes an attribute of a node, for instance
// Alter(ctx, "/S/A", AlterAdd, AlterKindVariable, "SUBMISSION_ID", "123").
func (c *Client) Alter(ctx context.Context, path, op, kind, name, value string) error {
	_, err := c.send(ctx, &Request{Command: CmdAlter, Path: path, Args: map[string]string{
		"op": op, "kind": kind, "name": name, "value": value,
	}})
	return err
}

// Replace loads definition into the server in place of the node at path.
// With create set the node is added when it does not exist.
func (c *Client) Replace(ctx context.Context, path, definition string, create bool) error {
	_, err := c.send(ctx, &Request{Command: CmdReplace, Path: path, Args: map[string]string{
		"definition": definition, "create": strconv.FormatBool(create),
	}})
	return err
}

// Delete removes the node at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.send(ctx, &Request{Command: CmdDelete, Path: path})
	return err
}

// Requeue resets the node at path to queued.
func (c *Client) Requeue(ctx context.Context, path string) error {
	_, err := c.send(ctx, &Request{Command: CmdRequeue, Path: path})
	return err
}

// ForceState sets the state of the node at path.
func (c *Client) ForceState(ctx context.Context, path string, state suite.State) error {
	_, err := c.send(ctx, &Request{Command: CmdForceState, Path: path, Args: map[string]string{
		"state": string(state),
	}})
	return err
}

// Begin starts the scheduling of a suite.
func (c *Client) Begin(ctx context.Context, suiteName string) error {
	_, err := c.send(ctx, &Request{Command: CmdBegin, Path: "/" + suiteName})
	return err
}
