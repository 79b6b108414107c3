// Copyright 2021 PingCAP, Inc.
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

package filelock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/retry"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultLockRetryBaseInMs = 50
	defaultLockTries         = 40
)

// SimpleFileLock is an advisory lock on a file. The kernel drops it when
// the holding process dies, so a crashed command never leaves a stale
// lock behind.
type SimpleFileLock struct {
	filePath string
	file     *os.File
}

// NewSimpleFileLock takes the lock at filePath, waiting while another
// process holds it. opts replace the default wait policy.
func NewSimpleFileLock(ctx context.Context, filePath string, opts ...retry.Option) (*SimpleFileLock, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, filePath)
	}
	lockFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, filePath)
	}

	locked := false
	errHeld := errors.New("lock held")
	err = retry.Do(ctx, func(context.Context) error {
		err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == unix.EWOULDBLOCK {
			locked = true
			return errHeld
		}
		locked = false
		return errors.Trace(err)
	}, append([]retry.Option{
		retry.WithBackoffBaseDelay(defaultLockRetryBaseInMs),
		retry.WithMaxTries(defaultLockTries),
		retry.WithIsRetryableErr(func(err error) bool { return errors.Cause(err) == errHeld }),
	}, opts...)...)
	if err != nil {
		_ = lockFile.Close()
		if cerrors.IsContextCanceledErr(err) {
			return nil, err
		}
		if locked {
			return nil, cerrors.ErrFileLocked.GenWithStackByArgs(filePath)
		}
		return nil, cerrors.WrapError(cerrors.ErrIO, err, filePath)
	}

	// the pid is only a hint for humans looking at the file
	if err := lockFile.Truncate(0); err == nil {
		if _, err := lockFile.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
			log.Warn("Failed to write pid to lockFile", zap.String("path", filePath), zap.Error(err))
		}
	}
	return &SimpleFileLock{filePath: filePath, file: lockFile}, nil
}

// Unlock unlocks the SimpleFileLock. The file is kept, removing it would
// let a waiting process lock a file nobody else can see.
func (fl *SimpleFileLock) Unlock() error {
	err := unix.Flock(int(fl.file.Fd()), unix.LOCK_UN)
	if cerr := fl.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, fl.filePath)
	}
	return nil
}
