// Package entityservice owns the open store of one database and exposes it
// as EntityView projections to the HTTP, MCP and job layers.
package entityservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/entitystore"
	"github.com/starford/entbrowser/internal/metrics"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/query"
)

const (
	// MaxBlobSize bounds a single blob payload.
	MaxBlobSize = 64 << 20

	DefaultPageSize = 50
	MaxPageSize     = 1000

	// linkPreview is the number of targets embedded per link in an EntityView.
	linkPreview = 20
)

// Entity change kinds passed to Publisher.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Publisher receives entity change notifications.
type Publisher interface {
	PublishEntityEvent(db, kind, id, entityType string)
}

// Options configures a Service.
type Options struct {
	Database  models.DatabaseSummary
	InMemory  bool
	Logger    *slog.Logger
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// Service wraps one open entity store.
//
// mu guards the store handle itself, which Reload swaps; every operation
// holds it for reading. writeMu serializes mutations, including jobs that
// take it through Write.
type Service struct {
	db       models.DatabaseSummary
	storeOpt entitystore.Options
	log      *slog.Logger
	pub      Publisher
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	store   *entitystore.Store
	stopped bool
	writeMu sync.Mutex
}

// New opens the store described by opts.Database.
func New(opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("db", opts.Database.UUID))

	s := &Service{
		db: opts.Database,
		storeOpt: entitystore.Options{
			Location: opts.Database.Location,
			Key:      opts.Database.Key,
			ReadOnly: opts.Database.ReadOnly(),
			InMemory: opts.InMemory,
			Logger:   log,
		},
		log:     log,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
	}
	store, err := entitystore.Open(s.storeOpt)
	if err != nil {
		return nil, err
	}
	s.store = store
	return s, nil
}

// Database returns the registry entry the service was opened from.
func (s *Service) Database() models.DatabaseSummary {
	return s.db
}

// ReadOnly reports whether mutations are rejected.
func (s *Service) ReadOnly() bool {
	return s.storeOpt.ReadOnly
}

// Stop closes the store. Calling it again is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// Reload closes and reopens the store handle so a read-only view picks up
// files written by another process. It fails once the service is stopped.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("%w: database %s is closed", apperr.ErrDatabase, s.db.UUID)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("close before reload failed", slog.String("error", err.Error()))
		}
		s.store = nil
	}
	store, err := entitystore.Open(s.storeOpt)
	if err != nil {
		return err
	}
	s.store = store
	s.log.Info("database reloaded")
	return nil
}

// Read runs fn with the current store handle. The handle must not be kept
// after fn returns.
func (s *Service) Read(fn func(*entitystore.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return fmt.Errorf("%w: database %s is closed", apperr.ErrDatabase, s.db.UUID)
	}
	return fn(s.store)
}

// Write runs fn holding the write lock, so no other mutation interleaves.
func (s *Service) Write(fn func(*entitystore.Store) error) error {
	if s.ReadOnly() {
		return fmt.Errorf("%w: %s", apperr.ErrReadOnly, s.db.Location)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Read(fn)
}

// Types lists entity types with their entity counts.
func (s *Service) Types(ctx context.Context) ([]models.EntityTypeView, error) {
	var out []models.EntityTypeView
	err := s.Read(func(st *entitystore.Store) error {
		types, err := st.Types(ctx)
		if err != nil {
			return err
		}
		out = make([]models.EntityTypeView, len(types))
		for i, t := range types {
			out[i] = models.EntityTypeView{ID: t.ID, Name: t.Name, Count: t.Count}
		}
		return nil
	})
	s.metrics.StoreOp("types", err)
	return out, err
}

// Search returns one page of entities of typeName matching q. An unknown
// type yields an empty page.
func (s *Service) Search(ctx context.Context, typeName, q string, offset, pageSize int) (models.SearchPager, error) {
	pager := models.SearchPager{Items: []models.EntityView{}}
	limit, err := pageBounds(offset, pageSize)
	if err != nil {
		return pager, err
	}
	pred, err := query.Parse(q)
	if err != nil {
		return pager, err
	}
	err = s.Read(func(st *entitystore.Store) error {
		typeID, ok, err := st.TypeID(typeName)
		if err != nil || !ok {
			return err
		}
		page, total, err := st.Query(ctx, typeID, pred.Filter(), offset, limit)
		if err != nil {
			return err
		}
		pager.TotalCount = total
		for _, e := range page {
			pager.Items = append(pager.Items, project(st, e))
		}
		return nil
	})
	s.metrics.StoreOp("search", err)
	return pager, err
}

// Get returns one entity.
func (s *Service) Get(_ context.Context, id string) (models.EntityView, error) {
	eid, err := entitystore.ParseID(id)
	if err != nil {
		return models.EntityView{}, err
	}
	var view models.EntityView
	err = s.Read(func(st *entitystore.Store) error {
		e, err := st.Get(eid)
		if err != nil {
			return err
		}
		view = project(st, e)
		return nil
	})
	s.metrics.StoreOp("get", err)
	return view, err
}

// Create stores a new entity built from view. Id, label and blobs in view
// are ignored.
func (s *Service) Create(_ context.Context, view models.EntityView) (models.EntityView, error) {
	if view.Type == "" {
		return models.EntityView{}, fmt.Errorf("%w: entity type is required", apperr.ErrInvalidField)
	}
	props, err := parseProperties(view.Properties)
	if err != nil {
		return models.EntityView{}, err
	}
	var links []entitystore.Link
	for _, lv := range view.Links {
		for _, t := range lv.Targets {
			target, err := entitystore.ParseID(t.ID)
			if err != nil {
				return models.EntityView{}, err
			}
			links = append(links, entitystore.Link{Name: lv.Name, Target: target})
		}
	}

	var out models.EntityView
	err = s.Write(func(st *entitystore.Store) error {
		e, err := st.Create(view.Type, props, links)
		if err != nil {
			return err
		}
		out = project(st, e)
		return nil
	})
	s.metrics.StoreOp("create", err)
	if err != nil {
		return models.EntityView{}, err
	}
	s.publish(EventCreated, out)
	return out, nil
}

// Update applies ch to the entity with the given id.
func (s *Service) Update(_ context.Context, id string, ch models.ChangeSummary) (models.EntityView, error) {
	eid, err := entitystore.ParseID(id)
	if err != nil {
		return models.EntityView{}, err
	}
	changes, err := parseChanges(ch)
	if err != nil {
		return models.EntityView{}, err
	}

	var out models.EntityView
	err = s.Write(func(st *entitystore.Store) error {
		e, err := st.Update(eid, changes)
		if err != nil {
			return err
		}
		out = project(st, e)
		return nil
	})
	s.metrics.StoreOp("update", err)
	if err != nil {
		return models.EntityView{}, err
	}
	s.publish(EventUpdated, out)
	return out, nil
}

// Delete removes an entity and every link pointing at it.
func (s *Service) Delete(_ context.Context, id string) error {
	eid, err := entitystore.ParseID(id)
	if err != nil {
		return err
	}
	var typeName string
	err = s.Write(func(st *entitystore.Store) error {
		e, err := st.Get(eid)
		if err != nil {
			return err
		}
		typeName = e.Type
		return st.Delete(eid)
	})
	s.metrics.StoreOp("delete", err)
	if err != nil {
		return err
	}
	if s.pub != nil {
		s.pub.PublishEntityEvent(s.db.UUID, EventDeleted, id, typeName)
	}
	return nil
}

// Linked returns one page of the targets of link name.
func (s *Service) Linked(ctx context.Context, id, name string, offset, pageSize int) (models.SearchPager, error) {
	pager := models.SearchPager{Items: []models.EntityView{}}
	eid, err := entitystore.ParseID(id)
	if err != nil {
		return pager, err
	}
	limit, err := pageBounds(offset, pageSize)
	if err != nil {
		return pager, err
	}
	err = s.Read(func(st *entitystore.Store) error {
		page, total, err := st.Linked(ctx, eid, name, offset, limit)
		if err != nil {
			return err
		}
		pager.TotalCount = total
		for _, e := range page {
			pager.Items = append(pager.Items, project(st, e))
		}
		return nil
	})
	s.metrics.StoreOp("linked", err)
	return pager, err
}

// Blob returns the payload of a named blob.
func (s *Service) Blob(_ context.Context, id, name string) ([]byte, error) {
	eid, err := entitystore.ParseID(id)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.Read(func(st *entitystore.Store) error {
		var err error
		data, err = st.Blob(eid, name)
		return err
	})
	s.metrics.StoreOp("blob_get", err)
	return data, err
}

// PutBlob stores or replaces a named blob.
func (s *Service) PutBlob(_ context.Context, id, name string, data []byte) (models.BlobView, error) {
	eid, err := entitystore.ParseID(id)
	if err != nil {
		return models.BlobView{}, err
	}
	if len(data) > MaxBlobSize {
		return models.BlobView{}, fmt.Errorf("%w: blob exceeds %d bytes", apperr.ErrInvalidField, MaxBlobSize)
	}
	var (
		info     entitystore.BlobInfo
		typeName string
	)
	err = s.Write(func(st *entitystore.Store) error {
		var err error
		if info, err = st.PutBlob(eid, name, data); err != nil {
			return err
		}
		e, err := st.Get(eid)
		if err == nil {
			typeName = e.Type
		}
		return nil
	})
	s.metrics.StoreOp("blob_put", err)
	if err != nil {
		return models.BlobView{}, err
	}
	if s.pub != nil {
		s.pub.PublishEntityEvent(s.db.UUID, EventUpdated, id, typeName)
	}
	return models.BlobView{Name: name, Size: info.Size, Checksum: info.Checksum}, nil
}

// Count returns the number of entities in the database.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	err := s.Read(func(st *entitystore.Store) error {
		var err error
		n, err = st.Count(ctx)
		return err
	})
	return n, err
}

func (s *Service) publish(kind string, v models.EntityView) {
	if s.pub == nil {
		return
	}
	s.pub.PublishEntityEvent(s.db.UUID, kind, v.ID, v.Type)
}

// pageBounds validates paging input and returns the effective page size.
func pageBounds(offset, pageSize int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: offset must not be negative", apperr.ErrInvalidField)
	}
	switch {
	case pageSize <= 0:
		return DefaultPageSize, nil
	case pageSize > MaxPageSize:
		return MaxPageSize, nil
	}
	return pageSize, nil
}
