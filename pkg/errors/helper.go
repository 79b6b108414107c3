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

package errors

import (
	"context"

	"github.com/pingcap/errors"
)

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which is different from the
// `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// Is reports whether any error in the chain of err carries the same RFC
// code as target. Both Cause and Unwrap chains are followed, and errors
// combined by multierr are searched one by one.
func Is(err error, target *errors.Error) bool {
	for err != nil {
		if e, ok := err.(*errors.Error); ok && e.ID() == target.ID() {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if Is(inner, target) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return false
		}
	}
	return false
}

// IsConfigError checks whether err is caused by bad or missing configuration.
func IsConfigError(err error) bool {
	return Is(err, ErrConfig) || Is(err, ErrUnknownBackend) || Is(err, ErrMissingEnv)
}

// IsBackendError checks whether err comes from a submission backend command.
func IsBackendError(err error) bool {
	return Is(err, ErrSubmit) || Is(err, ErrStatus) || Is(err, ErrKill)
}

// IsContextCanceledErr checks whether an error is caused by context.Canceled.
func IsContextCanceledErr(err error) bool {
	return errors.Cause(err) == context.Canceled
}

// IsRetryableServerErr returns whether a failed server command can be sent
// again. Rejections by the server and cancellations are final.
func IsRetryableServerErr(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrServerRejected) || IsContextCanceledErr(err) {
		return false
	}
	return true
}
