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

package logutil

import (
	"os"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	constFieldTaskKey    = "task"
	constFieldTryNoKey   = "try_no"
	constFieldBackendKey = "backend"
	constFieldJobKey     = "job_id"
	constFieldServerKey  = "server"
)

// Config serializes log related config in toml/json.
type Config struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log filename, leave empty to disable file log.
	File string `toml:"file" json:"file"`
	// Log format, one of json or text.
	Format string `toml:"format" json:"format"`
}

// Adjust fills the empty fields with default values.
func (cfg *Config) Adjust() {
	if cfg.Level == "" {
		cfg.Level = defaultLogLevel
	}
	if cfg.Format == "" {
		cfg.Format = defaultLogFormat
	}
}

// InitLogger initializes the global logger. Without a file the logs go to
// standard error, standard output carries the answers of the commands.
func InitLogger(cfg *Config) error {
	cfg.Adjust()
	logCfg := &log.Config{
		Level:  strings.ToLower(cfg.Level),
		Format: cfg.Format,
		File: log.FileLogConfig{
			Filename: cfg.File,
		},
	}
	var (
		lg    *zap.Logger
		props *log.ZapProperties
		err   error
	)
	if cfg.File == "" {
		stderr := zapcore.Lock(os.Stderr)
		lg, props, err = log.InitLoggerWithWriteSyncer(logCfg, stderr, stderr)
	} else {
		lg, props, err = log.InitLogger(logCfg)
	}
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// SetLogLevel changes the level of the global logger.
func SetLogLevel(level string) error {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return errors.Annotatef(err, "invalid log level %s", level)
	}
	log.SetLevel(lv)
	return nil
}

// NewLogger4Task returns a logger carrying the task identity.
func NewLogger4Task(task string, tryNo int) *zap.Logger {
	return log.L().With(
		zap.String(constFieldTaskKey, task),
		zap.Int(constFieldTryNoKey, tryNo),
	)
}

// NewLogger4Backend returns a logger for one submission backend instance.
func NewLogger4Backend(task, backend string) *zap.Logger {
	return log.L().With(
		zap.String(constFieldTaskKey, task),
		zap.String(constFieldBackendKey, backend),
	)
}

// NewLogger4Server returns a logger for the workflow server client.
func NewLogger4Server(addr string) *zap.Logger {
	return log.L().With(zap.String(constFieldServerKey, addr))
}

// WithJobID adds the job id field to a logger.
func WithJobID(lg *zap.Logger, jobID string) *zap.Logger {
	return lg.With(zap.String(constFieldJobKey, jobID))
}

// ZapErrorFilter wraps zap.Error, if err is in given filterErrors, it will be set to nil.
func ZapErrorFilter(err error, filterErrors ...error) zap.Field {
	cause := errors.Cause(err)
	for _, ferr := range filterErrors {
		if cause == ferr {
			return zap.Error(nil)
		}
	}
	return zap.Error(err)
}
