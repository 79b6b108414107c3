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
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/clock"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) (Store, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC))
	s, err := NewMemoryStore(context.Background(), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s, clk
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clk := newTestStore(t)

	_, err := s.Get(ctx, "/S/F/A")
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordNotFound))

	prev, err := s.Create(ctx, &Record{
		TaskName:   "/S/F/A",
		Backend:    "slurm",
		JobID:      "1001",
		Status:     StatusQueued,
		TryNo:      1,
		SubmitCmd:  "sbatch /jobout/A.job1",
		OutputPath: "/jobout/A.1",
		LogPath:    "/jobout/A.job1.sub",
	}, false)
	require.NoError(t, err)
	require.Nil(t, prev)

	rec, err := s.Get(ctx, "/S/F/A")
	require.NoError(t, err)
	require.Equal(t, "1001", rec.JobID)
	require.Equal(t, StatusQueued, rec.Status)
	require.Equal(t, int64(1), rec.Revision)
	require.True(t, rec.UpdatedAt.Equal(clk.Now()))
	require.True(t, rec.Live())

	byID, err := s.GetByJobID(ctx, "slurm", "1001")
	require.NoError(t, err)
	require.Equal(t, "/S/F/A", byID.TaskName)
	_, err = s.GetByJobID(ctx, "pbs", "1001")
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordNotFound))
}

func TestCreateLiveRecordNeedsSupersede(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "1", Status: StatusRunning}, false)
	require.NoError(t, err)

	_, err = s.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "2", Status: StatusQueued}, false)
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordExists))
	rec, err := s.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "1", rec.JobID)

	prev, err := s.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "2", Status: StatusQueued}, true)
	require.NoError(t, err)
	require.Equal(t, "1", prev.JobID)
	rec, err = s.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "2", rec.JobID)
	require.Equal(t, "1", rec.Supersedes)
	require.Equal(t, int64(2), rec.Revision)

	// a terminal record is replaced without the flag
	_, err = s.Update(ctx, "A", func(rec *Record) error {
		rec.Status = StatusAborted
		return nil
	})
	require.NoError(t, err)
	prev, err = s.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "3", Status: StatusQueued}, false)
	require.NoError(t, err)
	require.Equal(t, StatusAborted, prev.Status)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestUpdateAndClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clk := newTestStore(t)

	_, err := s.Update(ctx, "missing", func(rec *Record) error { return nil })
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordNotFound))

	_, err = s.Create(ctx, &Record{TaskName: "B", Backend: "background", JobID: "4242", Status: StatusRunning}, false)
	require.NoError(t, err)

	clk.Add(time.Minute)
	rec, err := s.Update(ctx, "B", func(rec *Record) error {
		rec.Status = StatusComplete
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rec.Status)
	require.Equal(t, int64(2), rec.Revision)
	require.True(t, rec.UpdatedAt.Equal(clk.Now()))

	boom := errors.New("boom")
	_, err = s.Update(ctx, "B", func(rec *Record) error {
		rec.Status = StatusAborted
		return boom
	})
	require.Equal(t, boom, errors.Cause(err))
	rec, err = s.Get(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rec.Status)

	require.NoError(t, s.Clear(ctx, "B"))
	require.NoError(t, s.Clear(ctx, "B"))
	_, err = s.Get(ctx, "B")
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordNotFound))
}

func TestConcurrentUpdatesPerKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	const (
		tasks   = 4
		updates = 10
	)
	for i := 0; i < tasks; i++ {
		_, err := s.Create(ctx, &Record{TaskName: fmt.Sprintf("T%d", i), Backend: "batch", JobID: "x", Status: StatusQueued}, false)
		require.NoError(t, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < tasks; i++ {
		name := fmt.Sprintf("T%d", i)
		for j := 0; j < updates; j++ {
			g.Go(func() error {
				_, err := s.Update(gctx, name, func(rec *Record) error {
					rec.TryNo++
					return nil
				})
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, tasks)
	for _, rec := range recs {
		require.Equal(t, updates, rec.TryNo, rec.TaskName)
		require.Equal(t, int64(updates+1), rec.Revision, rec.TaskName)
	}
}

func TestOpenFileStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Create(ctx, &Record{TaskName: "A", Backend: "gridengine", JobID: "77", Status: StatusQueued}, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// a later process finds the record again
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.GetByJobID(ctx, "gridengine", "77")
	require.NoError(t, err)
	require.Equal(t, "A", rec.TaskName)
}

func TestLockCanceled(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "1"}, false)
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordLock))
}

func openPair(t *testing.T) (Store, Store) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	a, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	b, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return a, b
}

func TestUpdateSeesWriteOfOtherProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, b := openPair(t)
	_, err := a.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "1", Status: StatusQueued}, false)
	require.NoError(t, err)

	stale := errors.New("stale")
	calls := 0
	_, err = a.Update(ctx, "A", func(rec *Record) error {
		calls++
		if calls == 1 {
			// a kill in another process lands between the read and the write
			_, err := b.Update(ctx, "A", func(rec *Record) error {
				rec.Status = StatusAborted
				return nil
			})
			require.NoError(t, err)
		}
		if rec.Revision != 1 {
			return stale
		}
		rec.Status = StatusRunning
		return nil
	})
	require.Equal(t, stale, errors.Cause(err))
	require.Equal(t, 2, calls)

	for _, s := range []Store{a, b} {
		rec, err := s.Get(ctx, "A")
		require.NoError(t, err)
		require.Equal(t, StatusAborted, rec.Status)
		require.Equal(t, int64(2), rec.Revision)
	}

	// without a revision check in fn the write is applied on top
	rec, err := a.Update(ctx, "A", func(rec *Record) error {
		if calls == 2 {
			calls++
			_, err := b.Update(ctx, "A", func(rec *Record) error {
				rec.TryNo = 2
				return nil
			})
			require.NoError(t, err)
		}
		rec.SubmitCmd = "qsub A.job2"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, rec.TryNo)
	require.Equal(t, "qsub A.job2", rec.SubmitCmd)
	require.Equal(t, int64(4), rec.Revision)
}

func TestUpdateGivesUpOnConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, b := openPair(t)
	_, err := a.Create(ctx, &Record{TaskName: "A", Backend: "slurm", JobID: "1", Status: StatusRunning}, false)
	require.NoError(t, err)

	_, err = a.Update(ctx, "A", func(rec *Record) error {
		_, err := b.Update(ctx, "A", func(rec *Record) error {
			rec.TryNo++
			return nil
		})
		require.NoError(t, err)
		rec.Status = StatusComplete
		return nil
	})
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordConflict), "%v", err)

	rec, err := b.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, rec.Status)
	require.Equal(t, maxWriteAttempts, rec.TryNo)
}

func TestCreateAcrossStoreHandles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, b := openPair(t)
	_, err := a.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "1", Status: StatusQueued}, false)
	require.NoError(t, err)

	// the live record written by the other handle blocks a plain create
	_, err = b.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "2", Status: StatusQueued}, false)
	require.True(t, cerrors.Is(err, cerrors.ErrJobRecordExists), "%v", err)

	prev, err := b.Create(ctx, &Record{TaskName: "A", Backend: "pbs", JobID: "2", Status: StatusQueued}, true)
	require.NoError(t, err)
	require.Equal(t, "1", prev.JobID)
	rec, err := a.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "2", rec.JobID)
	require.Equal(t, "1", rec.Supersedes)
	require.Equal(t, int64(2), rec.Revision)
}
