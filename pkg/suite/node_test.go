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
	"testing"

	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestSuite(t *testing.T) (s, f, a, b *Node) {
	s, err := NewSuite("S", Var("ECF_HOME", "/home/ecf"), Var("ECF_TRIES", "2"))
	require.NoError(t, err)
	f, err = s.AddFamily("F", Var("ECF_TRIES", "3"))
	require.NoError(t, err)
	a, err = f.AddTask("A")
	require.NoError(t, err)
	b, err = f.AddTask("B", Var("WORKDIR", "/tmp/b"))
	require.NoError(t, err)
	return s, f, a, b
}

func TestNodePaths(t *testing.T) {
	t.Parallel()

	s, f, a, _ := newTestSuite(t)
	require.Equal(t, "/S", s.Path())
	require.Equal(t, "", s.RelPath())
	require.Equal(t, "/S/F", f.Path())
	require.Equal(t, "F/A", a.RelPath())
	require.Equal(t, "/S/F/A", a.Path())
	require.Equal(t, s, a.Suite())
	require.Equal(t, f, a.Parent())
	require.Equal(t, KindTask, a.Kind())
	require.Equal(t, "family", f.Kind().String())

	found, ok := s.Find("F/B")
	require.True(t, ok)
	require.Equal(t, "B", found.Name())
	found, ok = a.Find("../B")
	require.True(t, ok)
	require.Equal(t, "/S/F/B", found.Path())
	found, ok = a.Find("/S/F")
	require.True(t, ok)
	require.Equal(t, f, found)
	_, ok = a.Find("/T/F")
	require.False(t, ok)
	_, ok = s.Find("F/C")
	require.False(t, ok)
	_, ok = s.Find("..")
	require.False(t, ok)
}

func TestNodeDefinitionErrors(t *testing.T) {
	t.Parallel()

	s, f, a, _ := newTestSuite(t)

	_, err := f.AddTask("A")
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))
	require.Contains(t, err.Error(), "duplicate child name A")

	_, err = a.AddTask("X")
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))

	_, err = s.AddFamily("bad name")
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))

	_, err = NewSuite("")
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))

	err = a.AddTrigger("B ==", ModeAnd)
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))
	require.True(t, cerrors.Is(err, cerrors.ErrTriggerSyntax))

	err = s.AddTrigger("F/A == complete", ModeAnd)
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))

	require.True(t, cerrors.Is(a.AddVariable("1BAD", "x"), cerrors.ErrDefinition))
	require.True(t, cerrors.Is(a.AddVariable("GOOD", "two\nlines"), cerrors.ErrDefinition))
	require.True(t, cerrors.Is(a.SetDefStatus(StateActive), cerrors.ErrDefinition))
	require.NoError(t, a.SetDefStatus(StateComplete))
	require.Equal(t, StateComplete, a.DefStatus())
}

func TestVariablesInheritance(t *testing.T) {
	t.Parallel()

	_, f, a, b := newTestSuite(t)

	v, ok := a.Lookup("ECF_TRIES")
	require.True(t, ok)
	require.Equal(t, "3", v)
	v, ok = b.Lookup("ECF_HOME")
	require.True(t, ok)
	require.Equal(t, "/home/ecf", v)
	_, ok = a.Lookup("WORKDIR")
	require.False(t, ok)

	require.Equal(t, []Variable{
		{Name: "ECF_HOME", Value: "/home/ecf"},
		{Name: "ECF_TRIES", Value: "3"},
		{Name: "WORKDIR", Value: "/tmp/b"},
	}, b.Environment())

	require.NoError(t, f.AddVariable("ECF_TRIES", "4"))
	require.Equal(t, []Variable{{Name: "ECF_TRIES", Value: "4"}}, f.Variables())
}

func TestWalkPreOrder(t *testing.T) {
	t.Parallel()

	s, f, _, _ := newTestSuite(t)
	g, err := s.AddFamily("G")
	require.NoError(t, err)
	_, err = g.AddTask("C")
	require.NoError(t, err)
	_, err = f.AddFamily("H")
	require.NoError(t, err)

	var paths []string
	require.NoError(t, s.Walk(func(n *Node) error {
		paths = append(paths, n.Path())
		return nil
	}))
	require.Equal(t, []string{"/S", "/S/F", "/S/F/A", "/S/F/B", "/S/F/H", "/S/G", "/S/G/C"}, paths)
}

func TestResolveExpr(t *testing.T) {
	t.Parallel()

	s, f, a, b := newTestSuite(t)
	g, err := s.AddFamily("G")
	require.NoError(t, err)

	require.NoError(t, b.AddTrigger("A == complete", ModeAnd))
	resolved, err := b.ResolveExpr(b.TriggerExpr())
	require.NoError(t, err)
	require.Equal(t, "F/A == complete", resolved.String())
	// the stored trigger is left untouched
	require.Equal(t, "A == complete", b.TriggerExpr().String())

	require.NoError(t, g.AddTrigger("F == complete or /S/F/A == aborted", ModeAnd))
	resolved, err = g.ResolveExpr(g.TriggerExpr())
	require.NoError(t, err)
	require.Equal(t, "F == complete OR F/A == aborted", resolved.String())

	require.NoError(t, a.AddTrigger("Missing == complete", ModeAnd))
	_, err = a.ResolveExpr(a.TriggerExpr())
	require.True(t, cerrors.Is(err, cerrors.ErrDefinition))
	require.Contains(t, err.Error(), "Missing")

	require.Nil(t, f.TriggerExpr())
	resolved, err = f.ResolveExpr(nil)
	require.NoError(t, err)
	require.Nil(t, resolved)
}
