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

package defs

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/suite"
)

type parser struct {
	def    *Definition
	stack  []int
	lineNo int
}

// Parse reads a definition in the workflow server text format. Only the
// subset written by WriteTo is understood.
func Parse(r io.Reader) (*Definition, error) {
	p := &parser{def: &Definition{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		p.lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.parseLine(line); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, "definition")
	}
	p.popTask()
	if len(p.stack) > 0 {
		return nil, p.errorf(p.top(), "missing end%s", p.top().Kind)
	}
	if len(p.def.Entries) == 0 {
		return nil, cerrors.ErrDefinition.GenWithStackByArgs("", "empty definition")
	}
	p.def.buildIndex()
	return p.def, nil
}

func (p *parser) errorf(e *Entry, format string, args ...interface{}) error {
	path := ""
	if e != nil {
		path = e.Path
	}
	return cerrors.ErrDefinition.GenWithStackByArgs(
		path, fmt.Sprintf("line %d: ", p.lineNo)+fmt.Sprintf(format, args...))
}

func (p *parser) top() *Entry {
	if len(p.stack) == 0 {
		return nil
	}
	return &p.def.Entries[p.stack[len(p.stack)-1]]
}

// popTask closes a task, tasks have no mandatory end keyword.
func (p *parser) popTask() {
	if top := p.top(); top != nil && top.Kind == suite.KindTask {
		p.stack = p.stack[:len(p.stack)-1]
	}
}

func (p *parser) parseLine(line string) error {
	keyword, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		keyword, rest = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch keyword {
	case "suite", "family", "task":
		return p.openNode(keyword, rest)
	case "endsuite", "endfamily", "endtask":
		if keyword != "endtask" {
			p.popTask()
		}
		top := p.top()
		if top == nil || "end"+top.Kind.String() != keyword {
			return p.errorf(top, "unexpected %s", keyword)
		}
		p.stack = p.stack[:len(p.stack)-1]
		return nil
	}

	cur := p.top()
	if cur == nil {
		return p.errorf(nil, "%s outside of a suite", keyword)
	}
	switch keyword {
	case "edit":
		name, value := rest, ""
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			name, value = rest[:i], strings.TrimSpace(rest[i+1:])
		}
		if name == "" {
			return p.errorf(cur, "edit without a variable name")
		}
		cur.Variables = append(cur.Variables, suite.Variable{Name: name, Value: unquote(value)})
	case "trigger", "complete":
		e, err := suite.ParseExpr(rest)
		if err != nil {
			return cerrors.ErrDefinition.Wrap(err).GenWithStackByArgs(cur.Path, fmt.Sprintf("line %d", p.lineNo))
		}
		if keyword == "trigger" {
			cur.Trigger = e.String()
		} else {
			cur.Complete = e.String()
		}
	case "defstatus":
		st, err := suite.ParseState(rest)
		if err != nil {
			return p.errorf(cur, "%s", err.Error())
		}
		cur.DefStatus = st
	default:
		return p.errorf(cur, "unknown keyword %s", keyword)
	}
	return nil
}

func (p *parser) openNode(keyword, name string) error {
	kind, err := suite.ParseKind(keyword)
	if err != nil {
		return p.errorf(p.top(), "%s", err.Error())
	}
	if name == "" || strings.ContainsAny(name, " \t/") {
		return p.errorf(p.top(), "invalid %s name %q", keyword, name)
	}
	p.popTask()
	entry := Entry{Path: "/" + name, Kind: kind}
	parent := p.top()
	switch {
	case kind == suite.KindSuite && (parent != nil || len(p.def.Entries) > 0):
		return p.errorf(parent, "only one suite per definition")
	case kind != suite.KindSuite && parent == nil:
		return p.errorf(nil, "%s %s outside of a suite", keyword, name)
	}
	if parent != nil {
		entry.Parent = parent.Path
		entry.Path = parent.Path + "/" + name
		entry.Depth = parent.Depth + 1
	}
	p.def.Entries = append(p.def.Entries, entry)
	p.stack = append(p.stack, len(p.def.Entries)-1)
	return nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '\'' && v[len(v)-1] == '\'') || (v[0] == '"' && v[len(v)-1] == '"') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
