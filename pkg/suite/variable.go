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

	cerrors "github.com/pingcap/jobflow/pkg/errors"
)

var variableNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Variable is a name/value pair attached to a node and inherited by its
// descendants unless they define the same name.
type Variable struct {
	Name  string
	Value string
}

// Var is a shorthand to build a Variable.
func Var(name, value string) Variable {
	return Variable{Name: name, Value: value}
}

// AddVariable sets a variable on n. Setting an existing name replaces
// the value and keeps its position.
func (n *Node) AddVariable(name, value string) error {
	if !variableNameRegexp.MatchString(name) {
		return cerrors.ErrDefinition.GenWithStackByArgs(n.Path(), fmt.Sprintf("invalid variable name %q", name))
	}
	if strings.ContainsAny(value, "\r\n") {
		return cerrors.ErrDefinition.GenWithStackByArgs(n.Path(), fmt.Sprintf("variable %s contains a newline", name))
	}
	for i := range n.variables {
		if n.variables[i].Name == name {
			n.variables[i].Value = value
			return nil
		}
	}
	n.variables = append(n.variables, Variable{Name: name, Value: value})
	return nil
}

// Variables returns the variables defined on n itself.
func (n *Node) Variables() []Variable {
	return append([]Variable(nil), n.variables...)
}

// Lookup returns the value of name as seen by n, walking up the tree.
func (n *Node) Lookup(name string) (string, bool) {
	for cur := n; cur != nil; cur = cur.parent {
		for _, v := range cur.variables {
			if v.Name == name {
				return v.Value, true
			}
		}
	}
	return "", false
}

// Environment returns every variable visible from n. Names keep the order
// in which the outermost node defined them, values come from the nearest
// node.
func (n *Node) Environment() []Variable {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	var (
		env   []Variable
		index = make(map[string]int)
	)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, v := range chain[i].variables {
			if pos, ok := index[v.Name]; ok {
				env[pos].Value = v.Value
				continue
			}
			index[v.Name] = len(env)
			env = append(env, v)
		}
	}
	return env
}
