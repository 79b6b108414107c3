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
	"github.com/pingcap/errors"
)

// all jobflow errors
var (
	// general errors
	ErrUnknown = errors.Normalize(
		"unknown error",
		errors.RFCCodeText("DFLOW:ErrUnknown"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("DFLOW:ErrInvalidArgument"),
	)
	ErrConfig = errors.Normalize(
		"configuration error: %s",
		errors.RFCCodeText("DFLOW:ErrConfig"),
	)
	ErrReachMaxTry = errors.Normalize(
		"reach maximum try: %d, error: %s",
		errors.RFCCodeText("DFLOW:ErrReachMaxTry"),
	)
	ErrIO = errors.Normalize(
		"io error on %s",
		errors.RFCCodeText("DFLOW:ErrIO"),
	)
	ErrFileLocked = errors.Normalize(
		"%s is locked by another process",
		errors.RFCCodeText("DFLOW:ErrFileLocked"),
	)

	// node tree and definition errors
	ErrDefinition = errors.Normalize(
		"invalid definition of node %s: %s",
		errors.RFCCodeText("DFLOW:ErrDefinition"),
	)
	ErrTriggerSyntax = errors.Normalize(
		"invalid trigger expression %q: %s",
		errors.RFCCodeText("DFLOW:ErrTriggerSyntax"),
	)

	// submission backend errors, tagged with task name, backend kind and job id
	ErrSubmit = errors.Normalize(
		"submit task %s with backend %s failed, last job id %q: %s",
		errors.RFCCodeText("DFLOW:ErrSubmit"),
	)
	ErrStatus = errors.Normalize(
		"query status of task %s with backend %s failed, job id %q: %s",
		errors.RFCCodeText("DFLOW:ErrStatus"),
	)
	ErrKill = errors.Normalize(
		"kill task %s with backend %s failed, job id %q: %s",
		errors.RFCCodeText("DFLOW:ErrKill"),
	)
	ErrUnknownBackend = errors.Normalize(
		"unknown submission backend %q",
		errors.RFCCodeText("DFLOW:ErrUnknownBackend"),
	)

	// job record store errors
	ErrJobRecordNotFound = errors.Normalize(
		"job record for task %s not found",
		errors.RFCCodeText("DFLOW:ErrJobRecordNotFound"),
	)
	ErrJobRecordExists = errors.Normalize(
		"task %s already has a live job record, job id %q status %s",
		errors.RFCCodeText("DFLOW:ErrJobRecordExists"),
	)
	ErrJobRecordLock = errors.Normalize(
		"failed to lock job record of task %s",
		errors.RFCCodeText("DFLOW:ErrJobRecordLock"),
	)
	ErrJobRecordConflict = errors.Normalize(
		"job record of task %s kept changing during %d write attempts",
		errors.RFCCodeText("DFLOW:ErrJobRecordConflict"),
	)

	// workflow server errors
	ErrServerCommunication = errors.Normalize(
		"communication with workflow server %s failed after %d attempts, command %s",
		errors.RFCCodeText("DFLOW:ErrServerCommunication"),
	)
	ErrServerRejected = errors.Normalize(
		"workflow server rejected command %s: %s",
		errors.RFCCodeText("DFLOW:ErrServerRejected"),
	)
	ErrReplace = errors.Normalize(
		"replace of node %s partially failed, old definition deleted but new one not accepted: %s",
		errors.RFCCodeText("DFLOW:ErrReplace"),
	)
	ErrInvalidStateTransition = errors.Normalize(
		"client can not transit from %s to %s",
		errors.RFCCodeText("DFLOW:ErrInvalidStateTransition"),
	)
	ErrClientNotConnected = errors.Normalize(
		"client is not connected, state %s",
		errors.RFCCodeText("DFLOW:ErrClientNotConnected"),
	)
	ErrStartServer = errors.Normalize(
		"failed to start workflow server on port %d: %s",
		errors.RFCCodeText("DFLOW:ErrStartServer"),
	)

	// task runtime errors
	ErrMissingEnv = errors.Normalize(
		"required environment variable %s is not set",
		errors.RFCCodeText("DFLOW:ErrMissingEnv"),
	)
	ErrSignalReceived = errors.Normalize(
		"task interrupted by signal %s",
		errors.RFCCodeText("DFLOW:ErrSignalReceived"),
	)
)
