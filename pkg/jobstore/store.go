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

package jobstore

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/clock"
	"github.com/pingcap/jobflow/pkg/ctxmu"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	storeResource = "job store"
	// maxWriteAttempts bounds the retries of a write that lost the
	// revision check against another process.
	maxWriteAttempts = 8
)

// Store keeps one record per task name. Writes to the same task name are
// serialized within a process and checked against the stored revision
// across processes sharing one database.
type Store interface {
	// Get returns the record of taskName or ErrJobRecordNotFound.
	Get(ctx context.Context, taskName string) (*Record, error)
	// GetByJobID returns the record holding jobID for backend or
	// ErrJobRecordNotFound.
	GetByJobID(ctx context.Context, backend, jobID string) (*Record, error)
	// Create stores rec as the record of rec.TaskName. A live record of
	// the same task is only replaced when allowSupersede is set, the
	// replaced record is returned.
	Create(ctx context.Context, rec *Record, allowSupersede bool) (*Record, error)
	// Update applies fn to the record of taskName and stores the result.
	// Returning an error from fn discards the change. When another process
	// wrote the record in between, fn runs again on the newer record.
	Update(ctx context.Context, taskName string, fn func(rec *Record) error) (*Record, error)
	// Clear removes the record of taskName, it is not an error when
	// there is none.
	Clear(ctx context.Context, taskName string) error
	// List returns every record ordered by task name.
	List(ctx context.Context) ([]*Record, error)
	Close() error
}

type sqliteStore struct {
	db    *gorm.DB
	locks *ctxmu.KeyedMutex
	clock clock.Clock
	lg    *zap.Logger
}

// Option configures a Store.
type Option func(*sqliteStore)

// WithClock sets the clock used for record timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *sqliteStore) {
		s.clock = c
	}
}

// Open opens, and creates when missing, the job store at path.
func Open(ctx context.Context, path string, opts ...Option) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, path)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return open(ctx, dsn, opts...)
}

// NewMemoryStore creates a private in-memory job store, mostly for tests.
func NewMemoryStore(ctx context.Context, opts ...Option) (Store, error) {
	// ref:https://www.sqlite.org/inmemorydb.html
	// a random name gives every store its own database while cache=shared
	// lets the connections of one store see the same data
	dsn := fmt.Sprintf("file:%s.db?mode=memory&cache=shared", uuid.New().String())
	return open(ctx, dsn, opts...)
}

func open(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	s := &sqliteStore{
		locks: ctxmu.NewKeyed(),
		clock: clock.New(),
		lg:    log.L().With(zap.String("component", "jobstore")),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 newOrmLogger(s.lg, WithSlowThreshold(time.Second)),
	})
	if err != nil {
		s.lg.Error("open job store fail", zap.String("dsn", dsn), zap.Error(err))
		return nil, cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	// sqlite allows one writer at a time
	sqlDB.SetMaxOpenConns(1)
	s.db = db

	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		_ = sqlDB.Close()
		return nil, cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	return s, nil
}

func (s *sqliteStore) lock(ctx context.Context, taskName string) (func(), error) {
	unlock, ok := s.locks.Lock(ctx, taskName)
	if !ok {
		return nil, cerrors.ErrJobRecordLock.Wrap(ctx.Err()).GenWithStackByArgs(taskName)
	}
	return unlock, nil
}

func (s *sqliteStore) get(ctx context.Context, taskName string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("task_name = ?", taskName).First(&rec).Error
	if err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, cerrors.ErrJobRecordNotFound.GenWithStackByArgs(taskName)
		}
		return nil, cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	return &rec, nil
}

// Get implements Store.
func (s *sqliteStore) Get(ctx context.Context, taskName string) (*Record, error) {
	return s.get(ctx, taskName)
}

// GetByJobID implements Store.
func (s *sqliteStore) GetByJobID(ctx context.Context, backend, jobID string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("backend = ? AND job_id = ?", backend, jobID).
		Order("updated_at DESC").
		First(&rec).Error
	if err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, cerrors.ErrJobRecordNotFound.GenWithStackByArgs(backend + "/" + jobID)
		}
		return nil, cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	return &rec, nil
}

// Create implements Store.
func (s *sqliteStore) Create(ctx context.Context, rec *Record, allowSupersede bool) (*Record, error) {
	unlock, err := s.lock(ctx, rec.TaskName)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		prev, ok, err := s.tryCreate(ctx, rec, allowSupersede)
		if err != nil {
			return nil, err
		}
		if ok {
			if prev != nil && prev.Live() {
				s.lg.Warn("live job record superseded",
					zap.String("task", prev.TaskName),
					zap.String("backend", prev.Backend),
					zap.String("old-job-id", prev.JobID),
					zap.String("old-status", string(prev.Status)),
					zap.String("new-job-id", rec.JobID))
			}
			return prev, nil
		}
		s.lg.Debug("job record changed by another writer",
			zap.String("task", rec.TaskName), zap.Int("attempt", attempt))
	}
	return nil, cerrors.ErrJobRecordConflict.GenWithStackByArgs(rec.TaskName, maxWriteAttempts)
}

// tryCreate reports false when another writer got to the record first.
func (s *sqliteStore) tryCreate(ctx context.Context, rec *Record, allowSupersede bool) (*Record, bool, error) {
	prev, err := s.get(ctx, rec.TaskName)
	if err != nil && !cerrors.Is(err, cerrors.ErrJobRecordNotFound) {
		return nil, false, err
	}
	now := s.clock.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.Revision = 1
	if prev == nil {
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if res.Error != nil {
			return nil, false, cerrors.WrapError(cerrors.ErrIO, res.Error, storeResource)
		}
		return nil, res.RowsAffected == 1, nil
	}

	if prev.Live() && !allowSupersede {
		return nil, false, cerrors.ErrJobRecordExists.GenWithStackByArgs(prev.TaskName, prev.JobID, prev.Status)
	}
	rec.Supersedes = prev.JobID
	rec.Revision = prev.Revision + 1
	ok, err := s.swap(ctx, rec, prev.Revision)
	return prev, ok, err
}

// swap writes rec only while the stored record is still at revision seen.
func (s *sqliteStore) swap(ctx context.Context, rec *Record, seen int64) (bool, error) {
	res := s.db.WithContext(ctx).Select("*").
		Where("task_name = ? AND revision = ?", rec.TaskName, seen).
		Updates(rec)
	if res.Error != nil {
		return false, cerrors.WrapError(cerrors.ErrIO, res.Error, storeResource)
	}
	return res.RowsAffected == 1, nil
}

// Update implements Store.
func (s *sqliteStore) Update(ctx context.Context, taskName string, fn func(rec *Record) error) (*Record, error) {
	unlock, err := s.lock(ctx, taskName)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		rec, err := s.get(ctx, taskName)
		if err != nil {
			return nil, err
		}
		seen := rec.Revision
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.TaskName = taskName
		rec.Revision = seen + 1
		rec.UpdatedAt = s.clock.Now()
		ok, err := s.swap(ctx, rec, seen)
		if err != nil {
			return nil, err
		}
		if ok {
			return rec, nil
		}
		s.lg.Debug("job record changed by another writer",
			zap.String("task", taskName), zap.Int("attempt", attempt))
	}
	return nil, cerrors.ErrJobRecordConflict.GenWithStackByArgs(taskName, maxWriteAttempts)
}

// Clear implements Store.
func (s *sqliteStore) Clear(ctx context.Context, taskName string) error {
	unlock, err := s.lock(ctx, taskName)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.db.WithContext(ctx).Where("task_name = ?", taskName).Delete(&Record{}).Error; err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	return nil
}

// List implements Store.
func (s *sqliteStore) List(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	if err := s.db.WithContext(ctx).Order("task_name").Find(&recs).Error; err != nil {
		return nil, cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	return recs, nil
}

// Close implements Store.
func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return cerrors.WrapError(cerrors.ErrIO, err, storeResource)
	}
	return errors.Trace(sqlDB.Close())
}
