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

// Copyright 2012-2020, Hǎi-Liàng “Hal” Wáng
// Copyright 2022 PingCAP, Inc.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd
//
// original code: https://h12.io/article/go-pattern-context-aware-lock

package ctxmu

import (
	"context"
	"sync"
)

// CtxMutex implements a context aware lock
type CtxMutex struct {
	ch chan struct{}
}

// New creates a new CtxMutex
func New() *CtxMutex {
	return &CtxMutex{
		ch: make(chan struct{}, 1),
	}
}

// Lock acquires a lock, it can be canceled by context
func (mu *CtxMutex) Lock(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case mu.ch <- struct{}{}:
		return true
	}
}

// Unlock releases the acquired lock
func (mu *CtxMutex) Unlock() {
	<-mu.ch
}

// Locked checks whether the lock is hold
func (mu *CtxMutex) Locked() bool {
	return len(mu.ch) > 0 // locked or not
}

type keyedEntry struct {
	mu   *CtxMutex
	refs int
}

// KeyedMutex hands out one CtxMutex per key. Holders of different keys
// never block each other. Entries are dropped once no goroutine holds or
// waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyed creates a new KeyedMutex
func NewKeyed() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the lock of key, it can be canceled by context.
// The returned function releases it and must be called exactly once
// when ok is true.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (unlock func(), ok bool) {
	k.mu.Lock()
	entry, exists := k.entries[key]
	if !exists {
		entry = &keyedEntry{mu: New()}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	if !entry.mu.Lock(ctx) {
		k.release(key, entry)
		return nil, false
	}
	return func() {
		entry.mu.Unlock()
		k.release(key, entry)
	}, true
}

func (k *KeyedMutex) release(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
}

// Len returns the number of keys currently held or waited for.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
