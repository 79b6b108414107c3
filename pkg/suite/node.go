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
	"fmt"
	"regexp"
	"strings"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
)

// Kind is the kind of a node in the workflow tree.
type Kind int

// All node kinds.
const (
	KindSuite Kind = iota + 1
	KindFamily
	KindTask
)

var kindNames = map[Kind]string{
	KindSuite:  "suite",
	KindFamily: "family",
	KindTask:   "task",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the keyword used in definition files.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown node kind %q", s)
}

var nodeNameRegexp = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.]*$`)

// Node is a suite, family or task of a workflow tree. Children are owned
// by their parent and kept in insertion order; the parent pointer is only
// used for navigation.
type Node struct {
	name      string
	kind      Kind
	parent    *Node
	children  []*Node
	byName    map[string]*Node
	variables []Variable
	triggers  []*Trigger
	completes []*Trigger
	defStatus State
}

// NewSuite creates the root of a workflow tree.
func NewSuite(name string, vars ...Variable) (*Node, error) {
	return newNode(nil, name, KindSuite, vars)
}

func newNode(parent *Node, name string, kind Kind, vars []Variable) (*Node, error) {
	where := name
	if parent != nil {
		where = parent.Path() + "/" + name
	}
	if !nodeNameRegexp.MatchString(name) {
		return nil, cerrors.ErrDefinition.GenWithStackByArgs(where, "invalid node name")
	}
	n := &Node{
		name:   name,
		kind:   kind,
		parent: parent,
		byName: make(map[string]*Node),
	}
	for _, v := range vars {
		if err := n.AddVariable(v.Name, v.Value); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// AddFamily adds a family under n.
func (n *Node) AddFamily(name string, vars ...Variable) (*Node, error) {
	return n.addChild(name, KindFamily, vars)
}

// AddTask adds a task under n.
func (n *Node) AddTask(name string, vars ...Variable) (*Node, error) {
	return n.addChild(name, KindTask, vars)
}

func (n *Node) addChild(name string, kind Kind, vars []Variable) (*Node, error) {
	if n.kind == KindTask {
		return nil, cerrors.ErrDefinition.GenWithStackByArgs(n.Path(), "a task can not have children")
	}
	if _, ok := n.byName[name]; ok {
		return nil, cerrors.ErrDefinition.GenWithStackByArgs(
			n.Path(), fmt.Sprintf("duplicate child name %s", name))
	}
	child, err := newNode(n, name, kind, vars)
	if err != nil {
		return nil, err
	}
	n.children = append(n.children, child)
	n.byName[name] = child
	return child, nil
}

// AddTrigger parses expression and attaches it to n. When n already has a
// trigger, the new one is joined to it with mode.
func (n *Node) AddTrigger(expression string, mode Mode) error {
	t, err := ParseTrigger(expression, mode)
	if err != nil {
		return cerrors.ErrDefinition.Wrap(err).GenWithStackByArgs(n.Path(), "bad trigger")
	}
	return n.AttachTrigger(t)
}

// AttachTrigger attaches an already built trigger, nil is ignored.
func (n *Node) AttachTrigger(t *Trigger) error {
	if t == nil {
		return nil
	}
	if n.kind == KindSuite {
		return cerrors.ErrDefinition.GenWithStackByArgs(n.Path(), "a suite can not have triggers")
	}
	n.triggers = append(n.triggers, t)
	return nil
}

// AddComplete attaches a completion expression, joined like AddTrigger.
func (n *Node) AddComplete(expression string, mode Mode) error {
	t, err := ParseTrigger(expression, mode)
	if err != nil {
		return cerrors.ErrDefinition.Wrap(err).GenWithStackByArgs(n.Path(), "bad complete expression")
	}
	if n.kind == KindSuite {
		return cerrors.ErrDefinition.GenWithStackByArgs(n.Path(), "a suite can not have a complete expression")
	}
	n.completes = append(n.completes, t)
	return nil
}

// SetDefStatus sets the status the server gives n when the suite begins.
func (n *Node) SetDefStatus(s State) error {
	switch s {
	case StateQueued, StateComplete, StateAborted, StateSuspended:
		n.defStatus = s
		return nil
	default:
		return cerrors.ErrDefinition.GenWithStackByArgs(n.Path(), fmt.Sprintf("invalid defstatus %s", s))
	}
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Parent returns the parent node, nil for a suite.
func (n *Node) Parent() *Node { return n.parent }

// DefStatus returns the default status, empty when unset.
func (n *Node) DefStatus() State { return n.defStatus }

// Children returns the children in insertion order.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// Triggers returns the trigger parts in the order they were added.
func (n *Node) Triggers() []*Trigger {
	return append([]*Trigger(nil), n.triggers...)
}

// HasComplete reports whether n carries a completion expression.
func (n *Node) HasComplete() bool { return len(n.completes) > 0 }

// TriggerExpr returns the combined trigger of n, nil when n has none.
func (n *Node) TriggerExpr() *Expr { return combine(n.triggers) }

// CompleteExpr returns the combined completion expression, nil when unset.
func (n *Node) CompleteExpr() *Expr { return combine(n.completes) }

// Suite returns the root of the tree n belongs to.
func (n *Node) Suite() *Node {
	root := n
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Path returns the absolute path, e.g. /S/F/A.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/" + n.name
	}
	return n.parent.Path() + "/" + n.name
}

// RelPath returns the path relative to the suite, e.g. F/A. It is the
// form used inside trigger expressions. The suite itself has an empty
// relative path.
func (n *Node) RelPath() string {
	if n.parent == nil {
		return ""
	}
	if n.parent.parent == nil {
		return n.name
	}
	return n.parent.RelPath() + "/" + n.name
}

// Find resolves path starting at n. Segments "." and ".." are supported;
// a leading "/" starts at the root and must name the suite first.
func (n *Node) Find(path string) (*Node, bool) {
	cur := n
	if strings.HasPrefix(path, "/") {
		root := n.Suite()
		segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
		if len(segs) == 0 || segs[0] != root.name {
			return nil, false
		}
		cur, path = root, strings.Join(segs[1:], "/")
	}
	if path == "" {
		return cur, true
	}
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
		case "..":
			if cur.parent == nil {
				return nil, false
			}
			cur = cur.parent
		default:
			child, ok := cur.byName[seg]
			if !ok {
				return nil, false
			}
			cur = child
		}
	}
	return cur, true
}

// Walk visits n and its descendants in pre-order, children in insertion
// order. It stops at the first error returned by fn.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range n.children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// resolveRef finds the node a trigger reference of n points to. Relative
// references are looked up from the parent of n first, then from the
// suite root.
func (n *Node) resolveRef(ref string) (*Node, bool) {
	if strings.HasPrefix(ref, "/") {
		return n.Find(ref)
	}
	if n.parent != nil {
		if target, ok := n.parent.Find(ref); ok {
			return target, true
		}
	}
	return n.Suite().Find(ref)
}

// ResolveExpr returns a copy of e where every reference is rewritten to
// the suite relative path of the node it names. A reference that names no
// node of the suite is a definition error.
func (n *Node) ResolveExpr(e *Expr) (*Expr, error) {
	if e == nil {
		return nil, nil
	}
	var missing []string
	resolved := e.mapLeaves(func(leaf *Expr) {
		target, ok := n.resolveRef(leaf.Path)
		if !ok || target.parent == nil {
			missing = append(missing, leaf.Path)
			return
		}
		leaf.Path = target.RelPath()
	})
	if len(missing) > 0 {
		return nil, cerrors.ErrDefinition.GenWithStackByArgs(
			n.Path(), fmt.Sprintf("unresolved trigger reference %s", strings.Join(missing, ", ")))
	}
	return resolved, nil
}
