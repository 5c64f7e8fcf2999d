// Package app tracks the databases that are currently open and the
// services attached to each of them.
package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/starford/entbrowser/internal/dbregistry"
	"github.com/starford/entbrowser/internal/entityservice"
	"github.com/starford/entbrowser/internal/jobs"
	"github.com/starford/entbrowser/internal/metrics"
	"github.com/starford/entbrowser/internal/models"
)

// Services are the per-database services of one open database.
type Services struct {
	Database models.DatabaseSummary
	Store    *entityservice.Service
	Jobs     *jobs.Service
}

// Publisher receives entity, job and database lifecycle events.
type Publisher interface {
	entityservice.Publisher
	jobs.Publisher
	PublishDatabase(kind string, db models.DatabaseSummary)
}

// Watcher notifies about changes in a store directory.
type Watcher interface {
	WatchDir(id, dir string, fn func()) error
	Unwatch(id string)
}

// Options configures a Registry.
type Options struct {
	Databases *dbregistry.Registry
	Logger    *slog.Logger
	Publisher Publisher
	Watcher   Watcher
	Metrics   *metrics.Metrics

	MaxConcurrentJobs int64
	JobRetain         int
}

// Registry owns the open databases. One mutex serializes every open and
// stop, so at most one set of services exists per database.
type Registry struct {
	dbs     *dbregistry.Registry
	log     *slog.Logger
	pub     Publisher
	watcher Watcher
	metrics *metrics.Metrics
	limiter *semaphore.Weighted
	retain  int

	mu       sync.Mutex
	services map[string]*Services
}

// New creates an empty registry.
func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = jobs.DefaultMaxConcurrent
	}
	return &Registry{
		dbs:      opts.Databases,
		log:      log,
		pub:      opts.Publisher,
		watcher:  opts.Watcher,
		metrics:  opts.Metrics,
		limiter:  semaphore.NewWeighted(opts.MaxConcurrentJobs),
		retain:   opts.JobRetain,
		services: make(map[string]*Services),
	}
}

// Databases returns the database registry backing this registry.
func (r *Registry) Databases() *dbregistry.Registry {
	return r.dbs
}

// Open returns the services of database id, opening its store first if
// needed.
func (r *Registry) Open(id string) (*Services, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(id)
}

// TryOpen is Open for callers that cannot report errors; failures are
// logged.
func (r *Registry) TryOpen(id string) (*Services, bool) {
	s, err := r.Open(id)
	if err != nil {
		r.log.Error("open database failed", slog.String("db", id), slog.String("error", err.Error()))
		return nil, false
	}
	return s, true
}

// Get returns the services of an open database without opening it.
func (r *Registry) Get(id string) (*Services, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	return s, ok
}

// OpenIDs returns the ids of every open database, sorted.
func (r *Registry) OpenIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.services))
	for id := range r.services {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stop cancels the jobs of database id, closes its store and forgets it.
// Stopping a database that is not open is a no-op.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(id)
}

// Reconfigure applies fn to the registry entry of id. An open database is
// reopened with the new entry. If that fails the previous entry is put back,
// the database is reopened with it and the open error is returned.
func (r *Registry) Reconfigure(id string, fn func(*models.DatabaseSummary)) (models.DatabaseSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, err := r.dbs.Find(id)
	if err != nil {
		return models.DatabaseSummary{}, err
	}
	d, err := r.dbs.Update(id, fn)
	if err != nil {
		return models.DatabaseSummary{}, err
	}
	if _, open := r.services[id]; !open {
		return d, nil
	}

	if err := r.stopLocked(id); err != nil {
		r.log.Warn("stop database failed", slog.String("db", id), slog.String("error", err.Error()))
	}
	if _, err := r.openLocked(id); err != nil {
		r.log.Warn("reopen with new settings failed, rolling back", slog.String("db", id), slog.String("error", err.Error()))
		if _, rerr := r.dbs.Update(id, func(x *models.DatabaseSummary) { *x = old }); rerr != nil {
			r.log.Error("restore database entry failed", slog.String("db", id), slog.String("error", rerr.Error()))
		}
		if _, rerr := r.openLocked(id); rerr != nil {
			r.log.Error("reopen database failed", slog.String("db", id), slog.String("error", rerr.Error()))
			_, _ = r.dbs.Update(id, func(x *models.DatabaseSummary) { x.IsOpened = false })
		}
		return models.DatabaseSummary{}, err
	}
	return d, nil
}

// StopAll stops every open database.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.services {
		if err := r.stopLocked(id); err != nil {
			r.log.Error("stop database failed", slog.String("db", id), slog.String("error", err.Error()))
		}
	}
}

// Restore opens every registered database flagged as opened. Each one is
// attempted independently; failures are logged and leave the flag as is.
func (r *Registry) Restore(ctx context.Context) {
	for _, d := range r.dbs.All() {
		if ctx.Err() != nil {
			return
		}
		if !d.IsOpened {
			continue
		}
		if _, ok := r.TryOpen(d.UUID); ok {
			r.log.Info("database restored", slog.String("db", d.UUID), slog.String("location", d.Location))
		}
	}
}

func (r *Registry) openLocked(id string) (*Services, error) {
	if s, ok := r.services[id]; ok {
		return s, nil
	}
	d, err := r.dbs.Find(id)
	if err != nil {
		return nil, err
	}

	var pub entityservice.Publisher
	var jobPub jobs.Publisher
	if r.pub != nil {
		pub, jobPub = r.pub, r.pub
	}
	store, err := entityservice.New(entityservice.Options{
		Database:  d,
		Logger:    r.log,
		Publisher: pub,
		Metrics:   r.metrics,
	})
	if err != nil {
		return nil, err
	}
	s := &Services{
		Database: d,
		Store:    store,
		Jobs: jobs.New(jobs.Options{
			Database:  d.UUID,
			Limiter:   r.limiter,
			Retain:    r.retain,
			Logger:    r.log,
			Publisher: jobPub,
			Metrics:   r.metrics,
		}),
	}

	if d.IsWatchReadonly && r.watcher != nil {
		err := r.watcher.WatchDir(d.UUID, d.Location, func() {
			if err := store.Reload(); err != nil {
				r.log.Error("reload database failed", slog.String("db", d.UUID), slog.String("error", err.Error()))
				return
			}
			if r.pub != nil {
				r.pub.PublishDatabase("reloaded", d)
			}
		})
		if err != nil {
			r.log.Warn("watch database failed", slog.String("db", d.UUID), slog.String("error", err.Error()))
		}
	}

	r.services[id] = s
	r.metrics.DatabaseOpened()
	r.log.Info("database opened", slog.String("db", id), slog.String("location", d.Location), slog.Bool("readonly", d.ReadOnly()))
	if r.pub != nil {
		r.pub.PublishDatabase("opened", d)
	}
	return s, nil
}

func (r *Registry) stopLocked(id string) error {
	s, ok := r.services[id]
	if !ok {
		return nil
	}
	if r.watcher != nil {
		r.watcher.Unwatch(id)
	}
	s.Jobs.Stop()
	err := s.Store.Stop()
	delete(r.services, id)
	r.metrics.DatabaseClosed()
	r.log.Info("database closed", slog.String("db", id))
	if r.pub != nil {
		r.pub.PublishDatabase("closed", s.Database)
	}
	return err
}
