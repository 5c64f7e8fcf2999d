// Package jobs runs long operations (export, import, bulk delete) of one
// database in the background and tracks their progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/metrics"
	"github.com/starford/entbrowser/internal/models"
)

const (
	DefaultMaxConcurrent = 2
	DefaultRetain        = 50

	progressInterval = 250 * time.Millisecond
)

// RunFunc is the body of a job. It must return promptly once ctx is done.
type RunFunc func(ctx context.Context, p *Progress) error

// Publisher receives job status changes.
type Publisher interface {
	PublishJob(job models.Job)
}

// Options configures a Service.
type Options struct {
	Database string
	// Limiter bounds concurrently running jobs. It may be shared between
	// services; when nil a private one of MaxConcurrent slots is created.
	Limiter       *semaphore.Weighted
	MaxConcurrent int64
	Retain        int
	Logger        *slog.Logger
	Publisher     Publisher
	Metrics       *metrics.Metrics
}

type job struct {
	models.Job
	cancel      context.CancelFunc
	lastPublish time.Time
}

// Service tracks the jobs of one database.
type Service struct {
	db      string
	sem     *semaphore.Weighted
	retain  int
	log     *slog.Logger
	pub     Publisher
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
}

// New creates a job service.
func New(opts Options) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Limiter == nil {
		opts.Limiter = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		db:      opts.Database,
		sem:     opts.Limiter,
		retain:  opts.Retain,
		log:     log.With(slog.String("db", opts.Database)),
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
	}
}

// Start registers a job and runs it asynchronously once a slot is free.
func (s *Service) Start(kind string, run RunFunc) (models.Job, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: jobs of %s are stopped", apperr.ErrDatabase, s.db)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{
		Job: models.Job{
			ID:        uuid.NewString(),
			Database:  s.db,
			Kind:      kind,
			State:     models.JobPending,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}
	s.jobs[j.ID] = j
	snapshot := j.Job
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("job queued", slog.String("job", j.ID), slog.String("kind", kind))
	s.publish(snapshot)
	go s.execute(ctx, j, run)
	return snapshot, nil
}

func (s *Service) execute(ctx context.Context, j *job, run RunFunc) {
	defer s.wg.Done()
	defer j.cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finish(j, err, false)
		return
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	now := time.Now().UTC()
	j.State = models.JobRunning
	j.StartedAt = &now
	snapshot := j.Job
	s.mu.Unlock()
	s.metrics.JobStarted(j.Kind)
	s.publish(snapshot)

	err := s.runSafely(ctx, j, run)
	s.finish(j, err, true)
}

func (s *Service) runSafely(ctx context.Context, j *job, run RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx, &Progress{svc: s, job: j})
}

func (s *Service) finish(j *job, err error, wasRunning bool) {
	s.mu.Lock()
	now := time.Now().UTC()
	j.FinishedAt = &now
	switch {
	case err == nil:
		j.State = models.JobDone
	case errors.Is(err, context.Canceled):
		j.State = models.JobCancelled
	default:
		j.State = models.JobFailed
		j.Error = err.Error()
	}
	snapshot := j.Job
	s.evictLocked()
	s.mu.Unlock()

	s.metrics.JobFinished(j.Kind, snapshot.State, wasRunning)
	if snapshot.State == models.JobFailed {
		s.log.Error("job failed", slog.String("job", j.ID), slog.String("kind", j.Kind), slog.String("error", snapshot.Error))
	} else {
		s.log.Info("job finished", slog.String("job", j.ID), slog.String("kind", j.Kind), slog.String("state", snapshot.State))
	}
	s.publish(snapshot)
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
func (s *Service) evictLocked() {
	var finished []*job
	for _, j := range s.jobs {
		if j.Finished() {
			finished = append(finished, j)
		}
	}
	if len(finished) <= s.retain {
		return
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].FinishedAt.Before(*finished[b].FinishedAt)
	})
	for _, j := range finished[:len(finished)-s.retain] {
		delete(s.jobs, j.ID)
	}
}

// Get returns the current status of a job.
func (s *Service) Get(id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	return j.Job, nil
}

// List returns every tracked job, newest first.
func (s *Service) List() []models.Job {
	s.mu.Lock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Job)
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Cancel asks a job to stop. Finished jobs are left as they are.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	j.cancel()
	return nil
}

// Stop cancels every outstanding job and waits for them to return.
// No job can be started afterwards.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) publish(j models.Job) {
	if s.pub != nil {
		s.pub.PublishJob(j)
	}
}

// Progress lets a running job report how far it got.
type Progress struct {
	svc *Service
	job *job
}

// SetTotal sets the expected amount of work.
func (p *Progress) SetTotal(n int64) {
	p.update(func(j *models.Job) { j.Total = n }, true)
}

// Add records n more units of finished work.
func (p *Progress) Add(n int64) {
	p.update(func(j *models.Job) { j.Processed += n }, false)
}

// SetResult records a short description of the outcome, e.g. a file name.
func (p *Progress) SetResult(r string) {
	p.update(func(j *models.Job) { j.Result = r }, false)
}

func (p *Progress) update(fn func(*models.Job), force bool) {
	p.svc.mu.Lock()
	fn(&p.job.Job)
	now := time.Now()
	publish := force || now.Sub(p.job.lastPublish) >= progressInterval
	if publish {
		p.job.lastPublish = now
	}
	snapshot := p.job.Job
	p.svc.mu.Unlock()
	if publish {
		p.svc.publish(snapshot)
	}
}
