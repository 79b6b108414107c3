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
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
)

const (
	// DefaultPortOffset is added to the saved port when the descriptor does
	// not name an offset.
	DefaultPortOffset = 1500

	defaultTimeout      = 20 * time.Second
	defaultRetries      = 3
	defaultRetryBase    = 500 * time.Millisecond
	defaultTotalTimeout = 2 * time.Minute
)

// Session addresses one workflow server and carries the retry policy of
// the commands sent to it.
type Session struct {
	Host string
	// Port is the base port, the server listens on Port+PortOffset.
	Port       int
	PortOffset int
	LogHost    string
	LogPort    int

	// Timeout bounds a single attempt of a command.
	Timeout time.Duration
	Retries int
	// RetryBase is the first backoff delay, it doubles on every retry.
	RetryBase time.Duration
	// TotalTimeout bounds all attempts of a command together.
	TotalTimeout time.Duration
}

// sessionFile is the saved descriptor of a session.
type sessionFile struct {
	Host       string `json:"ECF_HOST"`
	Port       *int   `json:"ECF_PORT,omitempty"`
	PortOffset *int   `json:"ECF_PORT_OFFSET,omitempty"`
	LogHost    string `json:"ECF_LOGHOST,omitempty"`
	LogPort    int    `json:"ECF_LOGPORT,omitempty"`
}

// NewSession returns a session with the default retry policy.
func NewSession(host string, port int) *Session {
	s := &Session{Host: host, Port: port}
	s.Adjust()
	return s
}

// Adjust fills unset retry settings with defaults.
func (s *Session) Adjust() {
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	if s.Retries <= 0 {
		s.Retries = defaultRetries
	}
	if s.RetryBase <= 0 {
		s.RetryBase = defaultRetryBase
	}
	if s.TotalTimeout <= 0 {
		s.TotalTimeout = defaultTotalTimeout
	}
}

// Validate checks the session.
func (s *Session) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.Port, validation.Min(0)),
		validation.Field(&s.PortOffset, validation.Min(0)),
		validation.Field(&s.Timeout, validation.Min(time.Millisecond)),
		validation.Field(&s.Retries, validation.Min(1)),
	)
	if err != nil {
		return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs("server session: " + err.Error())
	}
	if p := s.EffectivePort(); p <= 0 || p > 65535 {
		return cerrors.ErrConfig.GenWithStackByArgs("server port " + strconv.Itoa(p) + " out of range")
	}
	return nil
}

// EffectivePort is the port the server listens on.
func (s Session) EffectivePort() int {
	return s.Port + s.PortOffset
}

// Addr is the host:port of the server.
func (s Session) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.EffectivePort()))
}

// LoadSession restores a session from a saved descriptor. A missing port
// defaults to the user id and a missing offset to DefaultPortOffset.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, cerrors.WrapError(cerrors.ErrConfig, err, "decode server descriptor "+path)
	}
	s := &Session{
		Host:       f.Host,
		Port:       os.Getuid(),
		PortOffset: DefaultPortOffset,
		LogHost:    f.LogHost,
		LogPort:    f.LogPort,
	}
	if f.Port != nil {
		s.Port = *f.Port
	}
	if f.PortOffset != nil {
		s.PortOffset = *f.PortOffset
	}
	s.Adjust()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the descriptor of s to path.
func (s *Session) Save(path string) error {
	port, offset := s.Port, s.PortOffset
	data, err := json.MarshalIndent(&sessionFile{
		Host:       s.Host,
		Port:       &port,
		PortOffset: &offset,
		LogHost:    s.LogHost,
		LogPort:    s.LogPort,
	}, "", "  ")
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	return nil
}
