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
	"strings"
	"unicode"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
)

// Expr is a parsed trigger expression. A leaf compares the state of the
// node at Path; an inner node joins Args with Op. AND binds tighter than
// OR, explicit parentheses are kept so that rendering is stable.
//
//	expr    := and { OR and }
//	and     := primary { AND primary }
//	primary := '(' expr ')' | path ( '==' | '!=' ) state
type Expr struct {
	Op     Mode
	Args   []*Expr
	Path   string
	Negate bool
	State  State

	grouped bool
}

// IsLeaf reports whether e is a single predicate.
func (e *Expr) IsLeaf() bool { return e.Op == "" }

func (e *Expr) String() string {
	var sb strings.Builder
	e.write(&sb)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder) {
	if e.IsLeaf() {
		sb.WriteString(e.Path)
		if e.Negate {
			sb.WriteString(" != ")
		} else {
			sb.WriteString(" == ")
		}
		sb.WriteString(string(e.State))
		return
	}
	if e.grouped {
		sb.WriteByte('(')
	}
	for i, arg := range e.Args {
		if i > 0 {
			sb.WriteString(" " + string(e.Op) + " ")
		}
		arg.write(sb)
	}
	if e.grouped {
		sb.WriteByte(')')
	}
}

// Refs returns the referenced paths in the order they appear.
func (e *Expr) Refs() []string {
	var refs []string
	e.walkLeaves(func(leaf *Expr) { refs = append(refs, leaf.Path) })
	return refs
}

// Terms returns the number of predicates in e.
func (e *Expr) Terms() int {
	return len(e.Refs())
}

// Eval evaluates e with the node states returned by stateOf.
func (e *Expr) Eval(stateOf func(path string) State) bool {
	if e.IsLeaf() {
		return (stateOf(e.Path) == e.State) != e.Negate
	}
	for _, arg := range e.Args {
		v := arg.Eval(stateOf)
		if e.Op == ModeAnd && !v {
			return false
		}
		if e.Op == ModeOr && v {
			return true
		}
	}
	return e.Op == ModeAnd
}

func (e *Expr) walkLeaves(fn func(*Expr)) {
	if e.IsLeaf() {
		fn(e)
		return
	}
	for _, arg := range e.Args {
		arg.walkLeaves(fn)
	}
}

func (e *Expr) clone() *Expr {
	c := *e
	if len(e.Args) > 0 {
		c.Args = make([]*Expr, len(e.Args))
		for i, arg := range e.Args {
			c.Args[i] = arg.clone()
		}
	}
	return &c
}

// group returns e wrapped in parentheses when it joins several terms.
func (e *Expr) group() *Expr {
	c := e.clone()
	if !c.IsLeaf() {
		c.grouped = true
	}
	return c
}

// mapLeaves returns a copy of e with fn applied to every leaf of the copy.
func (e *Expr) mapLeaves(fn func(*Expr)) *Expr {
	c := e.clone()
	c.walkLeaves(fn)
	return c
}

// ParseExpr parses a trigger expression.
func ParseExpr(s string) (*Expr, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, cerrors.ErrTriggerSyntax.GenWithStackByArgs(s, err.Error())
	}
	p := &exprParser{src: s, toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("unexpected %q", p.toks[p.pos].text)
	}
	return e, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokLParen
	tokRParen
	tokEq
	tokNe
)

type token struct {
	kind tokenKind
	text string
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_./", r)
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == '=' && i+1 < len(rs) && rs[i+1] == '=':
			toks = append(toks, token{tokEq, "=="})
			i += 2
		case r == '!' && i+1 < len(rs) && rs[i+1] == '=':
			toks = append(toks, token{tokNe, "!="})
			i += 2
		case isWordRune(r):
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			toks = append(toks, token{tokWord, string(rs[i:j])})
			i = j
		default:
			return nil, errors.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

type exprParser struct {
	src  string
	toks []token
	pos  int
}

func (p *exprParser) errorf(format string, args ...interface{}) error {
	return cerrors.ErrTriggerSyntax.GenWithStackByArgs(p.src, fmt.Sprintf(format, args...))
}

func (p *exprParser) peekKeyword(kw Mode) bool {
	if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokWord {
		return false
	}
	return strings.EqualFold(p.toks[p.pos].text, string(kw))
}

func (p *exprParser) parseOr() (*Expr, error) {
	return p.parseJoin(ModeOr, p.parseAnd)
}

func (p *exprParser) parseAnd() (*Expr, error) {
	return p.parseJoin(ModeAnd, p.parsePrimary)
}

func (p *exprParser) parseJoin(op Mode, next func() (*Expr, error)) (*Expr, error) {
	first, err := next()
	if err != nil {
		return nil, err
	}
	args := []*Expr{first}
	for p.peekKeyword(op) {
		p.pos++
		e, err := next()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	if len(args) == 1 {
		return first, nil
	}
	return &Expr{Op: op, Args: args}, nil
}

func (p *exprParser) parsePrimary() (*Expr, error) {
	if p.pos >= len(p.toks) {
		return nil, p.errorf("unexpected end of expression")
	}
	tok := p.toks[p.pos]
	if tok.kind == tokLParen {
		p.pos++
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return nil, p.errorf("missing )")
		}
		p.pos++
		e.grouped = true
		return e, nil
	}
	if tok.kind != tokWord || p.peekKeyword(ModeAnd) || p.peekKeyword(ModeOr) {
		return nil, p.errorf("expected node path, got %q", tok.text)
	}
	p.pos++
	if p.pos >= len(p.toks) || (p.toks[p.pos].kind != tokEq && p.toks[p.pos].kind != tokNe) {
		return nil, p.errorf("expected == or != after %s", tok.text)
	}
	negate := p.toks[p.pos].kind == tokNe
	p.pos++
	if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokWord {
		return nil, p.errorf("expected state after %s", tok.text)
	}
	st, err := ParseState(p.toks[p.pos].text)
	if err != nil {
		return nil, p.errorf("%s", err.Error())
	}
	p.pos++
	return &Expr{Path: tok.text, Negate: negate, State: st}, nil
}
