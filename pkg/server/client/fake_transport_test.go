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

package client

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every request and answers from canned settings.
type fakeTransport struct {
	mu       sync.Mutex
	log      []string
	requests []*Request
	failures map[string]int
	rejects  map[string]string
	hangs    map[string]bool
	states   map[string]string
	closed   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failures: make(map[string]int),
		rejects:  make(map[string]string),
		hangs:    make(map[string]bool),
		states:   make(map[string]string),
	}
}

func (f *fakeTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	cp := *req
	f.requests = append(f.requests, &cp)
	f.log = append(f.log, req.Command)
	hang := f.hangs[req.Command]
	if n := f.failures[req.Command]; n > 0 {
		f.failures[req.Command] = n - 1
		f.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	msg, rejected := f.rejects[req.Command]
	state := f.states[req.Path]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, errors.Trace(ctx.Err())
	}
	if rejected {
		return &Response{OK: false, Error: msg}, nil
	}
	return &Response{OK: true, State: state}, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) mark(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, event)
}

func (f *fakeTransport) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.log...)
}

func (f *fakeTransport) count(command string) int {
	n := 0
	for _, c := range f.calls() {
		if c == command {
			n++
		}
	}
	return n
}

func testSession() *Session {
	return &Session{
		Host:         "localhost",
		Port:         3141,
		Timeout:      50 * time.Millisecond,
		Retries:      3,
		RetryBase:    time.Millisecond,
		TotalTimeout: 5 * time.Second,
	}
}

func newTestClient(t *testing.T, tr Transport, opts ...Option) *Client {
	c, err := New(testSession(), tr, opts...)
	require.NoError(t, err)
	return c
}

// fakeSignals replaces the process signal functions of a scope.
type fakeSignals struct {
	mu       sync.Mutex
	ch       chan<- os.Signal
	stopped  int
	reraised []os.Signal
	tr       *fakeTransport
}

func (f *fakeSignals) hooks() signalHooks {
	return signalHooks{
		notify: func(c chan<- os.Signal, _ ...os.Signal) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.ch = c
		},
		stop: func(chan<- os.Signal) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.stopped++
		},
		reraise: func(sig os.Signal) error {
			f.mu.Lock()
			f.reraised = append(f.reraised, sig)
			f.mu.Unlock()
			f.tr.mark("reraise " + sig.String())
			return nil
		},
	}
}

func (f *fakeSignals) deliver(sig os.Signal) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- sig
}
