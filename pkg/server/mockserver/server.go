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

// Package mockserver is an in-memory workflow server speaking the client
// protocol, over HTTP or in-process.
package mockserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/defs"
	"github.com/pingcap/jobflow/pkg/server/client"
	"github.com/pingcap/jobflow/pkg/suite"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Call is one command the server handled.
type Call struct {
	Command string
	Path    string
	Args    map[string]string
}

func (c Call) String() string {
	if c.Path == "" {
		return c.Command
	}
	return c.Command + " " + c.Path
}

type node struct {
	entry     defs.Entry
	state     suite.State
	variables map[string]string
	attrs     map[string]string
}

// Server keeps the loaded suites and the state of their nodes.
type Server struct {
	mu       sync.Mutex
	nodes    map[string]*node
	begun    map[string]bool
	calls    []Call
	answered map[string]*client.Response
	failures map[string]int
	rejects  map[string][]string
}

// New returns an empty server.
func New() *Server {
	return &Server{
		nodes:    make(map[string]*node),
		begun:    make(map[string]bool),
		answered: make(map[string]*client.Response),
		failures: make(map[string]int),
		rejects:  make(map[string][]string),
	}
}

// FailNext makes the next n attempts of command fail like a lost
// connection.
func (s *Server) FailNext(command string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[command] += n
}

// RejectNext makes the next attempt of command be refused with msg.
func (s *Server) RejectNext(command, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[command] = append(s.rejects[command], msg)
}

// Calls returns the handled commands in order. Duplicated and failed
// attempts are not listed.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call{}, s.calls...)
}

// State returns the state of the node at p.
func (s *Server) State(p string) suite.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[cleanPath(p)]; ok {
		return n.state
	}
	return suite.StateUnknown
}

// Variable returns a variable of the node at p.
func (s *Server) Variable(p, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[cleanPath(p)]
	if !ok {
		return "", false
	}
	v, ok := n.variables[name]
	return v, ok
}

// Attr returns an event, meter or label of the node at p, keyed as
// "event:name", "meter:name" or "label:name".
func (s *Server) Attr(p, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[cleanPath(p)]; ok {
		return n.attrs[key]
	}
	return ""
}

// Paths returns the paths of every loaded node in lexical order.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Eligible reports whether the queued node at p may be submitted: its
// suite has begun and its trigger, if any, holds.
func (s *Server) Eligible(p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = cleanPath(p)
	n, ok := s.nodes[p]
	if !ok {
		return false, errors.Errorf("no node %s", p)
	}
	if n.state != suite.StateQueued || !s.begun[suiteOf(p)] {
		return false, nil
	}
	if n.entry.Trigger == "" {
		return true, nil
	}
	expr, err := suite.ParseExpr(n.entry.Trigger)
	if err != nil {
		return false, err
	}
	return expr.Eval(func(ref string) suite.State {
		if !strings.HasPrefix(ref, "/") {
			ref = "/" + suiteOf(p) + "/" + ref
		}
		if target, ok := s.nodes[ref]; ok {
			return target.state
		}
		return suite.StateUnknown
	}), nil
}

// Handle runs one request. A request id seen before gets the first
// answer again without touching any state.
func (s *Server) Handle(req *client.Request) (*client.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failures[req.Command]; n > 0 {
		s.failures[req.Command] = n - 1
		return nil, errors.Errorf("connection to workflow server lost during %s", req.Command)
	}
	if req.ID != "" {
		if resp, ok := s.answered[req.ID]; ok {
			return resp, nil
		}
	}
	var resp *client.Response
	if msgs := s.rejects[req.Command]; len(msgs) > 0 {
		s.rejects[req.Command] = msgs[1:]
		resp = &client.Response{Error: msgs[0]}
	} else {
		resp = s.handle(req)
	}
	if req.ID != "" {
		s.answered[req.ID] = resp
	}
	if resp.OK {
		s.calls = append(s.calls, Call{Command: req.Command, Path: cleanPath(req.Path), Args: req.Args})
	}
	return resp, nil
}

func refuse(format string, args ...interface{}) *client.Response {
	return &client.Response{Error: fmt.Sprintf(format, args...)}
}

var accepted = &client.Response{OK: true}

func (s *Server) handle(req *client.Request) *client.Response {
	p := cleanPath(req.Path)
	switch req.Command {
	case client.CmdPing:
		return accepted
	case client.CmdReplace:
		return s.replace(p, req.Args["definition"], req.Args["create"] == "true")
	case client.CmdBegin:
		if _, found := s.nodes[p]; !found {
			return refuse("no suite %s", p)
		}
		s.begun[suiteOf(p)] = true
		return accepted
	}

	n, found := s.nodes[p]
	if !found {
		return refuse("no node %s", p)
	}
	switch req.Command {
	case client.CmdInit:
		if n.entry.Kind != suite.KindTask {
			return refuse("%s is not a task", p)
		}
		n.state = suite.StateActive
		if req.Child != nil {
			n.attrs["try_no"] = strconv.Itoa(req.Child.TryNo)
			n.attrs["rid"] = req.Child.RemoteID
		}
	case client.CmdComplete:
		n.state = suite.StateComplete
	case client.CmdAbort:
		n.state = suite.StateAborted
		n.attrs["abort"] = req.Args["reason"]
	case client.CmdEvent, client.CmdMeter, client.CmdLabel:
		n.attrs[req.Command+":"+req.Args["name"]] = req.Args["value"]
	case client.CmdNodeState:
		return &client.Response{OK: true, State: string(n.state)}
	case client.CmdAlter:
		return s.alter(n, req.Args)
	case client.CmdDelete:
		for q := range s.nodes {
			if q == p || strings.HasPrefix(q, p+"/") {
				delete(s.nodes, q)
			}
		}
		if p == "/"+suiteOf(p) {
			delete(s.begun, suiteOf(p))
		}
	case client.CmdRequeue:
		for q, m := range s.nodes {
			if q == p || strings.HasPrefix(q, p+"/") {
				m.state = initialState(m.entry)
			}
		}
	case client.CmdForceState:
		st, err := suite.ParseState(req.Args["state"])
		if err != nil {
			return refuse("%s", err)
		}
		n.state = st
	default:
		return refuse("unknown command %s", req.Command)
	}
	return accepted
}

func (s *Server) alter(n *node, args map[string]string) *client.Response {
	if args["kind"] != client.AlterKindVariable {
		return refuse("alter of %s is not supported", args["kind"])
	}
	switch args["op"] {
	case client.AlterAdd, client.AlterChange:
		n.variables[args["name"]] = args["value"]
	case client.AlterDelete:
		delete(n.variables, args["name"])
	default:
		return refuse("unknown alter operation %s", args["op"])
	}
	return accepted
}

func (s *Server) replace(p, text string, create bool) *client.Response {
	def, err := defs.Parse(strings.NewReader(text))
	if err != nil {
		return refuse("bad definition: %s", err)
	}
	if "/"+def.Suite() != p {
		return refuse("definition holds suite %s, not %s", def.Suite(), p)
	}
	if _, found := s.nodes[p]; !found && !create {
		return refuse("no suite %s to replace", p)
	}
	for q := range s.nodes {
		if q == p || strings.HasPrefix(q, p+"/") {
			delete(s.nodes, q)
		}
	}
	for _, e := range def.Entries {
		vars := make(map[string]string, len(e.Variables))
		for _, v := range e.Variables {
			vars[v.Name] = v.Value
		}
		s.nodes[e.Path] = &node{
			entry:     e,
			state:     initialState(e),
			variables: vars,
			attrs:     make(map[string]string),
		}
	}
	log.Debug("suite loaded", zap.String("suite", p), zap.Int("nodes", len(def.Entries)))
	return accepted
}

func initialState(e defs.Entry) suite.State {
	if e.DefStatus != "" {
		return e.DefStatus
	}
	return suite.StateQueued
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)
}

func suiteOf(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.Index(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

// Router serves the protocol on POST /v1/:command.
func (s *Server) Router() *gin.Engine {
	// discard gin default log output
	gin.DefaultWriter = io.Discard

	router := gin.New()
	router.POST("/v1/:command", func(c *gin.Context) {
		req := &client.Request{}
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusBadRequest, refuse("bad request: %s", err))
			return
		}
		req.Command = c.Param("command")
		resp, err := s.Handle(req)
		if err != nil {
			c.String(http.StatusServiceUnavailable, err.Error())
			return
		}
		if !resp.OK {
			c.JSON(http.StatusConflict, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	})
	return router
}

// Transport returns a transport calling s without a network.
func (s *Server) Transport() client.Transport {
	return &inProcess{s: s}
}

type inProcess struct {
	s *Server
}

func (t *inProcess) Send(ctx context.Context, req *client.Request) (*client.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	cp := *req
	return t.s.Handle(&cp)
}

func (t *inProcess) Close() error { return nil }
