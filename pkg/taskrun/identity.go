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

package taskrun

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/jobpath"
	"github.com/pingcap/jobflow/pkg/server/client"
)

// Environment variables the server exports to every job.
const (
	EnvName         = "ECF_NAME"
	EnvTryNo        = "ECF_TRYNO"
	EnvPassword     = "ECF_PASS"
	EnvRemoteID     = "ECF_RID"
	EnvSubmissionID = "SUBMISSION_ID"
	EnvHost         = "ECF_HOST"
	EnvPort         = "ECF_PORT"
	EnvJobOutDir    = "JOBOUTDIR"
	// EnvTimeout is optional, the per attempt timeout in seconds.
	EnvTimeout = "ECF_TIMEOUT"
)

// Identity tells which try of which task the current process runs.
type Identity struct {
	Name         string
	TryNo        int
	Password     string
	RemoteID     string
	SubmissionID string
	Host         string
	Port         int
	JobOutDir    string
	Timeout      time.Duration
}

// FromEnv reads the identity from the process environment.
func FromEnv() (*Identity, error) {
	return fromLookup(os.LookupEnv)
}

// FromEnvFile reads the identity from a dotenv file. Keys missing from the
// file are taken from the process environment.
func FromEnvFile(path string) (*Identity, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	return fromLookup(func(key string) (string, bool) {
		if v, ok := env[key]; ok {
			return v, true
		}
		return os.LookupEnv(key)
	})
}

func fromLookup(lookup func(string) (string, bool)) (*Identity, error) {
	values := make(map[string]string)
	for _, key := range []string{
		EnvName, EnvTryNo, EnvPassword, EnvRemoteID, EnvSubmissionID, EnvHost, EnvPort, EnvJobOutDir,
	} {
		v, ok := lookup(key)
		if !ok {
			return nil, cerrors.ErrMissingEnv.GenWithStackByArgs(key)
		}
		values[key] = v
	}

	id := &Identity{
		Name:         values[EnvName],
		Password:     values[EnvPassword],
		RemoteID:     values[EnvRemoteID],
		SubmissionID: values[EnvSubmissionID],
		Host:         values[EnvHost],
		JobOutDir:    values[EnvJobOutDir],
	}
	var err error
	if id.TryNo, err = atoi(EnvTryNo, values[EnvTryNo]); err != nil {
		return nil, err
	}
	if id.Port, err = atoi(EnvPort, values[EnvPort]); err != nil {
		return nil, err
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		secs, err := atoi(EnvTimeout, v)
		if err != nil {
			return nil, err
		}
		id.Timeout = time.Duration(secs) * time.Second
	}
	// the server leaves the remote id empty for jobs it did not submit
	if id.RemoteID == "" {
		id.RemoteID = strconv.Itoa(os.Getpid())
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(key + " is not a number: " + value)
	}
	return n, nil
}

// Validate checks the identity.
func (id *Identity) Validate() error {
	err := validation.ValidateStruct(id,
		validation.Field(&id.Name, validation.Required),
		validation.Field(&id.TryNo, validation.Min(1)),
		validation.Field(&id.Host, validation.Required),
		validation.Field(&id.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&id.JobOutDir, validation.Required),
	)
	if err != nil {
		return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs("task identity: " + err.Error())
	}
	return nil
}

// Child is the identity as the server client knows it.
func (id *Identity) Child() client.Child {
	return client.Child{
		Path:     id.Name,
		Password: id.Password,
		RemoteID: id.RemoteID,
		TryNo:    id.TryNo,
	}
}

// Session returns the session to the server that started the job. The
// port is the one the server listens on, no offset applies.
func (id *Identity) Session() *client.Session {
	s := &client.Session{Host: id.Host, Port: id.Port, Timeout: id.Timeout}
	s.Adjust()
	return s
}

// JobFile is the job script of this try.
func (id *Identity) JobFile() string {
	return jobpath.Job(id.JobOutDir, id.Name, id.TryNo)
}

// OutputFile is the output of this try.
func (id *Identity) OutputFile() string {
	return jobpath.Output(id.JobOutDir, id.Name, id.TryNo)
}

// CreateJobLog creates the output file of this try and returns its path.
func (id *Identity) CreateJobLog() (string, error) {
	return touch(id.OutputFile())
}

// CreateStatusLog creates the log of the status command.
func (id *Identity) CreateStatusLog() (string, error) {
	return touch(jobpath.StatusLog(id.JobOutDir, id.Name, id.TryNo))
}

// CreateSubmissionLog creates the log of the submit command.
func (id *Identity) CreateSubmissionLog() (string, error) {
	return touch(jobpath.SubmissionLog(id.JobOutDir, id.Name, id.TryNo))
}

// CreateKillLog creates the log of the kill command.
func (id *Identity) CreateKillLog() (string, error) {
	return touch(jobpath.KillLog(id.JobOutDir, id.Name, id.TryNo))
}

// touch creates path without truncating an existing file.
func touch(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	if err := f.Close(); err != nil {
		return "", cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	return path, nil
}
