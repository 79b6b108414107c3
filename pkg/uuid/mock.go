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

package uuid

import (
	"fmt"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
)

// MockGenerator returns the ids pushed into it in FIFO order.
type MockGenerator struct {
	mu   sync.Mutex
	list []string
}

// NewMock creates a new MockGenerator instance
func NewMock() *MockGenerator {
	return &MockGenerator{}
}

// NewString implements Generator.NewString
func (g *MockGenerator) NewString() (ret string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.list) == 0 {
		log.Panic("Empty uuid list. Please use Push() to add a uuid to the list.")
	}

	ret, g.list = g.list[0], g.list[1:]
	return
}

// Push adds candidate ids to the FIFO list.
func (g *MockGenerator) Push(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.list = append(g.list, ids...)
}

// SequenceGenerator returns prefix-1, prefix-2 and so on.
type SequenceGenerator struct {
	prefix string
	next   atomic.Int64
}

// NewSequence creates a SequenceGenerator.
func NewSequence(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// NewString implements Generator.NewString
func (g *SequenceGenerator) NewString() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.next.Inc())
}
