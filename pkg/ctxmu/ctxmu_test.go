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

package ctxmu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

func TestCtxMutexCanceled(t *testing.T) {
	t.Parallel()

	mu := New()
	require.True(t, mu.Lock(context.Background()))
	require.True(t, mu.Locked())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.False(t, mu.Lock(ctx))

	mu.Unlock()
	require.False(t, mu.Locked())
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	km := NewKeyed()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			unlock, ok := km.Lock(ctx, "S/F/A")
			require.True(t, ok)
			defer unlock()
			n := inside.Inc()
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Dec()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), maxSeen.Load())
	require.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	km := NewKeyed()
	unlockA, ok := km.Lock(context.Background(), "A")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, ok := km.Lock(ctx, "B")
	require.True(t, ok)
	require.Equal(t, 2, km.Len())

	ctxA, cancelA := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelA()
	_, ok = km.Lock(ctxA, "A")
	require.False(t, ok)

	unlockA()
	unlockB()
	require.Equal(t, 0, km.Len())
}
