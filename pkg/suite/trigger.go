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

package suite

import (
	"strings"

	"github.com/pingcap/errors"
)

// State is the state of a node as kept by the workflow server.
type State string

// All node states.
const (
	StateUnknown   State = "unknown"
	StateQueued    State = "queued"
	StateSubmitted State = "submitted"
	StateActive    State = "active"
	StateComplete  State = "complete"
	StateAborted   State = "aborted"
	StateSuspended State = "suspended"
)

var validStates = map[State]struct{}{
	StateUnknown:   {},
	StateQueued:    {},
	StateSubmitted: {},
	StateActive:    {},
	StateComplete:  {},
	StateAborted:   {},
	StateSuspended: {},
}

// ParseState parses a state keyword, case insensitive.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(s))
	if _, ok := validStates[st]; !ok {
		return "", errors.Errorf("unknown node state %q", s)
	}
	return st, nil
}

// Mode is the boolean operator joining predicates.
type Mode string

// Supported modes.
const (
	ModeAnd Mode = "AND"
	ModeOr  Mode = "OR"
)

// ParseMode parses AND or OR, case insensitive. The empty string is AND.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "", string(ModeAnd):
		return ModeAnd, nil
	case string(ModeOr):
		return ModeOr, nil
	default:
		return "", errors.Errorf("unknown trigger mode %q", s)
	}
}

// Predicate tests the state of one node.
type Predicate struct {
	Path  string
	State State
}

// On builds a predicate on node n.
func On(n *Node, s State) Predicate {
	return Predicate{Path: n.RelPath(), State: s}
}

func (p Predicate) String() string {
	return p.Path + " == " + string(p.State)
}

// Trigger is one boolean expression gating a node, together with the mode
// used to join it to the triggers added before it.
type Trigger struct {
	Expr string
	Mode Mode

	parsed *Expr
}

// NewTrigger joins predicates with mode. A single predicate is kept bare,
// several are grouped in parentheses. No predicate means no trigger and
// nil is returned.
func NewTrigger(mode Mode, preds ...Predicate) *Trigger {
	if len(preds) == 0 {
		return nil
	}
	leaves := make([]*Expr, 0, len(preds))
	for _, p := range preds {
		leaves = append(leaves, &Expr{Path: p.Path, State: p.State})
	}
	e := leaves[0]
	if len(leaves) > 1 {
		e = &Expr{Op: mode, Args: leaves, grouped: true}
	}
	return &Trigger{Expr: e.String(), Mode: mode, parsed: e}
}

// ParseTrigger parses expression into a trigger.
func ParseTrigger(expression string, mode Mode) (*Trigger, error) {
	if mode == "" {
		mode = ModeAnd
	}
	if mode != ModeAnd && mode != ModeOr {
		return nil, errors.Errorf("unknown trigger mode %q", mode)
	}
	e, err := ParseExpr(expression)
	if err != nil {
		return nil, err
	}
	return &Trigger{Expr: e.String(), Mode: mode, parsed: e}, nil
}

// Join nests other into t with mode. A nil operand is ignored.
func (t *Trigger) Join(mode Mode, other *Trigger) *Trigger {
	if t == nil {
		return other
	}
	if other == nil {
		return t
	}
	e := &Expr{Op: mode, Args: []*Expr{t.expr().group(), other.expr().group()}, grouped: true}
	return &Trigger{Expr: e.String(), Mode: t.Mode, parsed: e}
}

func (t *Trigger) expr() *Expr {
	if t.parsed == nil {
		// Trigger built by hand, the expression is parsed lazily.
		e, err := ParseExpr(t.Expr)
		if err != nil {
			return &Expr{Path: t.Expr, State: StateUnknown}
		}
		t.parsed = e
	}
	return t.parsed
}

// combine joins trigger parts left to right, each part with its own mode.
func combine(parts []*Trigger) *Expr {
	if len(parts) == 0 {
		return nil
	}
	e := parts[0].expr().clone()
	for _, p := range parts[1:] {
		e = &Expr{Op: p.Mode, Args: []*Expr{e.group(), p.expr().group()}}
	}
	return e
}
