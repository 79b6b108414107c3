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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/suite"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	headerComment = "#5.8.4 jobflow"
	indentUnit    = "  "
)

// Entry is one node of a serialized tree.
type Entry struct {
	// Path is the absolute path of the node, e.g. /S/F/A.
	Path string
	// Parent is the absolute path of the parent, empty for the suite.
	Parent    string
	Kind      suite.Kind
	Depth     int
	Variables []suite.Variable
	// Trigger and Complete hold expressions with suite relative
	// references, empty when absent.
	Trigger   string
	Complete  string
	DefStatus suite.State
}

// Name returns the last path element.
func (e *Entry) Name() string {
	return e.Path[strings.LastIndex(e.Path, "/")+1:]
}

// Definition is a node tree flattened in pre-order, ready to be sent to
// the workflow server or written to a definition file.
type Definition struct {
	Entries []Entry

	index map[string]int
}

// Build walks the tree rooted at s once in pre-order and resolves every
// trigger and complete expression. An expression referencing a path
// outside the tree is a definition error.
func Build(s *suite.Node) (*Definition, error) {
	if s == nil || s.Kind() != suite.KindSuite {
		return nil, cerrors.ErrDefinition.GenWithStackByArgs("", "definition must be built from a suite")
	}
	def := &Definition{}
	err := s.Walk(func(n *suite.Node) error {
		entry := Entry{
			Path:      n.Path(),
			Kind:      n.Kind(),
			Variables: n.Variables(),
			DefStatus: n.DefStatus(),
		}
		if p := n.Parent(); p != nil {
			entry.Parent = p.Path()
			entry.Depth = strings.Count(entry.Path, "/") - 1
		}
		for _, v := range entry.Variables {
			if strings.Contains(v.Value, "'") && strings.Contains(v.Value, `"`) {
				return cerrors.ErrDefinition.GenWithStackByArgs(
					entry.Path, fmt.Sprintf("variable %s mixes single and double quotes", v.Name))
			}
		}
		trigger, err := n.ResolveExpr(n.TriggerExpr())
		if err != nil {
			return err
		}
		if trigger != nil {
			entry.Trigger = trigger.String()
		}
		complete, err := n.ResolveExpr(n.CompleteExpr())
		if err != nil {
			return err
		}
		if complete != nil {
			entry.Complete = complete.String()
		}
		def.Entries = append(def.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	def.buildIndex()
	return def, nil
}

func (d *Definition) buildIndex() {
	d.index = make(map[string]int, len(d.Entries))
	for i := range d.Entries {
		d.index[d.Entries[i].Path] = i
	}
}

// Suite returns the name of the suite.
func (d *Definition) Suite() string {
	if len(d.Entries) == 0 {
		return ""
	}
	return d.Entries[0].Name()
}

// Lookup returns the entry at the absolute path.
func (d *Definition) Lookup(path string) (*Entry, bool) {
	if d.index == nil {
		d.buildIndex()
	}
	i, ok := d.index[path]
	if !ok {
		return nil, false
	}
	return &d.Entries[i], true
}

// Children returns the direct children of path in order.
func (d *Definition) Children(path string) []*Entry {
	var children []*Entry
	for i := range d.Entries {
		if d.Entries[i].Parent == path {
			children = append(children, &d.Entries[i])
		}
	}
	return children
}

// Tasks returns the absolute paths of every task.
func (d *Definition) Tasks() []string {
	var tasks []string
	for _, e := range d.Entries {
		if e.Kind == suite.KindTask {
			tasks = append(tasks, e.Path)
		}
	}
	return tasks
}

func (d *Definition) String() string {
	var sb strings.Builder
	_, _ = d.WriteTo(&sb)
	return sb.String()
}

// WriteTo renders the definition in the workflow server text format.
func (d *Definition) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	sb.WriteString(headerComment + "\n")
	var open []*Entry
	closeTo := func(depth int) {
		for len(open) > 0 && open[len(open)-1].Depth >= depth {
			top := open[len(open)-1]
			open = open[:len(open)-1]
			sb.WriteString(strings.Repeat(indentUnit, top.Depth) + "end" + top.Kind.String() + "\n")
		}
	}
	for i := range d.Entries {
		e := &d.Entries[i]
		closeTo(e.Depth)
		indent := strings.Repeat(indentUnit, e.Depth)
		inner := indent + indentUnit
		sb.WriteString(indent + e.Kind.String() + " " + e.Name() + "\n")
		if e.DefStatus != "" {
			sb.WriteString(inner + "defstatus " + string(e.DefStatus) + "\n")
		}
		for _, v := range e.Variables {
			sb.WriteString(inner + "edit " + v.Name + " " + quote(v.Value) + "\n")
		}
		if e.Trigger != "" {
			sb.WriteString(inner + "trigger " + e.Trigger + "\n")
		}
		if e.Complete != "" {
			sb.WriteString(inner + "complete " + e.Complete + "\n")
		}
		if e.Kind != suite.KindTask {
			open = append(open, e)
		}
	}
	closeTo(0)
	n, err := io.WriteString(w, sb.String())
	return int64(n), errors.Trace(err)
}

func quote(v string) string {
	if strings.Contains(v, "'") {
		return `"` + v + `"`
	}
	return "'" + v + "'"
}

// SaveAsDefinitionFile renders def in memory and then replaces path with
// it through a temporary file in the same directory, so path is either
// left untouched or holds the complete definition.
func SaveAsDefinitionFile(def *Definition, path string) (err error) {
	content := []byte(def.String())

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err = tmp.Close(); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	log.Info("definition saved",
		zap.String("suite", def.Suite()),
		zap.String("path", path),
		zap.Int("nodes", len(def.Entries)))
	return nil
}

// Load reads a definition file written by SaveAsDefinitionFile.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	defer f.Close()
	return Parse(f)
}
