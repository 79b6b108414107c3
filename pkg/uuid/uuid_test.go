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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerator(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	uuid1 := gen.NewString()
	uuid2 := gen.NewString()
	require.NotEqual(t, uuid1, uuid2)
	require.Len(t, uuid1, 36)
}

func TestMockGenerator(t *testing.T) {
	t.Parallel()

	gen := NewMock()
	require.Panics(t, func() { gen.NewString() })

	uuids := []string{"uuid1", "uuid2", "uuid3"}
	gen.Push(uuids...)
	for _, uid := range uuids {
		require.Equal(t, uid, gen.NewString())
	}
}

func TestSequenceGenerator(t *testing.T) {
	t.Parallel()

	gen := NewSequence("req")
	require.Equal(t, "req-1", gen.NewString())
	require.Equal(t, "req-2", gen.NewString())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.NewString()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 800)
}
