package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/models"
)

type jobRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *jobRecorder) PublishJob(j models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, j.State)
}

func (r *jobRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func waitState(t *testing.T, s *Service, id, state string) models.Job {
	t.Helper()
	var j models.Job
	require.Eventually(t, func() bool {
		var err error
		j, err = s.Get(id)
		return err == nil && j.State == state
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, state)
	return j
}

func TestJobCompletes(t *testing.T) {
	rec := &jobRecorder{}
	s := New(Options{Database: "db", Publisher: rec})
	defer s.Stop()

	j, err := s.Start("export", func(ctx context.Context, p *Progress) error {
		p.SetTotal(3)
		p.Add(3)
		p.SetResult("file.sqlite")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, j.State)
	assert.NotEmpty(t, j.ID)

	done := waitState(t, s, j.ID, models.JobDone)
	assert.Equal(t, int64(3), done.Total)
	assert.Equal(t, int64(3), done.Processed)
	assert.Equal(t, "file.sqlite", done.Result)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	states := rec.snapshot()
	assert.Equal(t, models.JobPending, states[0])
	assert.Contains(t, states, models.JobRunning)
	assert.Equal(t, models.JobDone, states[len(states)-1])
}

func TestJobFailureAndPanic(t *testing.T) {
	s := New(Options{Database: "db"})
	defer s.Stop()

	j, _ := s.Start("import", func(context.Context, *Progress) error { return errors.New("bad file") })
	failed := waitState(t, s, j.ID, models.JobFailed)
	assert.Equal(t, "bad file", failed.Error)

	j, _ = s.Start("import", func(context.Context, *Progress) error { panic("boom") })
	failed = waitState(t, s, j.ID, models.JobFailed)
	assert.Contains(t, failed.Error, "boom")
}

func TestCancelRunningJob(t *testing.T) {
	s := New(Options{Database: "db"})
	defer s.Stop()

	started := make(chan struct{})
	j, err := s.Start("delete", func(ctx context.Context, _ *Progress) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started
	require.NoError(t, s.Cancel(j.ID))
	waitState(t, s, j.ID, models.JobCancelled)

	assert.ErrorIs(t, s.Cancel("missing"), apperr.ErrNotFound)
	_, err = s.Get("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrencyBound(t *testing.T) {
	s := New(Options{Database: "db", MaxConcurrent: 1})
	defer s.Stop()

	release := make(chan struct{})
	first, _ := s.Start("export", func(ctx context.Context, _ *Progress) error {
		<-release
		return nil
	})
	waitState(t, s, first.ID, models.JobRunning)

	second, _ := s.Start("export", func(context.Context, *Progress) error { return nil })
	time.Sleep(50 * time.Millisecond)
	got, err := s.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.State, "second job must wait for a slot")

	close(release)
	waitState(t, s, second.ID, models.JobDone)
}

func TestCancelPendingJob(t *testing.T) {
	s := New(Options{Database: "db", MaxConcurrent: 1})
	defer s.Stop()

	release := make(chan struct{})
	first, _ := s.Start("export", func(ctx context.Context, _ *Progress) error {
		<-release
		return nil
	})
	waitState(t, s, first.ID, models.JobRunning)

	ran := false
	second, _ := s.Start("export", func(context.Context, *Progress) error { ran = true; return nil })
	require.NoError(t, s.Cancel(second.ID))
	waitState(t, s, second.ID, models.JobCancelled)
	close(release)
	waitState(t, s, first.ID, models.JobDone)
	assert.False(t, ran)
}

func TestRetention(t *testing.T) {
	s := New(Options{Database: "db", Retain: 3})
	defer s.Stop()

	var ids []string
	for i := 0; i < 5; i++ {
		j, err := s.Start("export", func(context.Context, *Progress) error { return nil })
		require.NoError(t, err)
		waitState(t, s, j.ID, models.JobDone)
		ids = append(ids, j.ID)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, ids[4], list[0].ID, "newest first")
	_, err := s.Get(ids[0])
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStopCancelsAndRejects(t *testing.T) {
	s := New(Options{Database: "db"})

	started := make(chan struct{})
	j, _ := s.Start("delete", func(ctx context.Context, _ *Progress) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	s.Stop()

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.State)

	_, err = s.Start("export", func(context.Context, *Progress) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrDatabase)
}
