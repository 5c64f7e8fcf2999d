// Package dbregistry persists the list of known database locations as a
// small JSON file.
package dbregistry

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/storage"
)

// Registry is the in-memory view of the registry file. All mutations are
// written back to disk before they return.
type Registry struct {
	mu    sync.RWMutex
	store storage.Provider
	file  string
	dbs   map[string]models.DatabaseSummary
}

// Open loads the registry stored at file (relative to the provider root).
// A missing file yields an empty registry.
func Open(store storage.Provider, file string) (*Registry, error) {
	r := &Registry{store: store, file: file}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the absolute path of the registry file.
func (r *Registry) Path() string {
	abs, _ := r.store.Abs(r.file)
	return abs
}

// Reload re-reads the registry file, replacing the in-memory state.
func (r *Registry) Reload() error {
	data, err := r.store.Read(r.file)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("dbregistry: %w", err)
	}
	var list []models.DatabaseSummary
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("dbregistry: parse %s: %w", r.file, err)
		}
	}
	dbs := make(map[string]models.DatabaseSummary, len(list))
	for _, d := range list {
		if d.UUID == "" {
			continue
		}
		d.IsEncrypted = d.Key != ""
		dbs[d.UUID] = d
	}

	r.mu.Lock()
	r.dbs = dbs
	r.mu.Unlock()
	return nil
}

// All returns every registered database ordered by location.
func (r *Registry) All() []models.DatabaseSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Find returns the database with the given uuid.
func (r *Registry) Find(id string) (models.DatabaseSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dbs[id]
	if !ok {
		return models.DatabaseSummary{}, fmt.Errorf("%w: database %s", apperr.ErrNotFound, id)
	}
	return d, nil
}

// Add registers a new location. Registering a location twice returns the
// existing entry together with apperr.ErrAlreadyExists.
func (r *Registry) Add(d models.DatabaseSummary) (models.DatabaseSummary, error) {
	if err := validateSummary(&d); err != nil {
		return models.DatabaseSummary{}, err
	}
	loc, err := normalizeLocation(d.Location)
	if err != nil {
		return models.DatabaseSummary{}, err
	}
	d.Location = loc

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.dbs {
		if existing.Location == loc {
			return existing, fmt.Errorf("%w: location %s is registered as %s", apperr.ErrAlreadyExists, loc, existing.UUID)
		}
	}
	d.UUID = uuid.NewString()
	d.IsEncrypted = d.Key != ""
	r.dbs[d.UUID] = d
	if err := r.saveLocked(); err != nil {
		delete(r.dbs, d.UUID)
		return models.DatabaseSummary{}, err
	}
	return d, nil
}

// Update applies fn to the stored summary and persists the result. The uuid
// and location cannot be changed.
func (r *Registry) Update(id string, fn func(*models.DatabaseSummary)) (models.DatabaseSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.dbs[id]
	if !ok {
		return models.DatabaseSummary{}, fmt.Errorf("%w: database %s", apperr.ErrNotFound, id)
	}
	d := old
	fn(&d)
	d.UUID, d.Location = old.UUID, old.Location
	if err := validateSummary(&d); err != nil {
		return models.DatabaseSummary{}, err
	}
	d.IsEncrypted = d.Key != ""
	r.dbs[id] = d
	if err := r.saveLocked(); err != nil {
		r.dbs[id] = old
		return models.DatabaseSummary{}, err
	}
	return d, nil
}

// Delete forgets a database. The store files are left untouched.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.dbs[id]
	if !ok {
		return fmt.Errorf("%w: database %s", apperr.ErrNotFound, id)
	}
	delete(r.dbs, id)
	if err := r.saveLocked(); err != nil {
		r.dbs[id] = old
		return err
	}
	return nil
}

func (r *Registry) sortedLocked() []models.DatabaseSummary {
	out := make([]models.DatabaseSummary, 0, len(r.dbs))
	for _, d := range r.dbs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location == out[j].Location {
			return out[i].UUID < out[j].UUID
		}
		return out[i].Location < out[j].Location
	})
	return out
}

func (r *Registry) saveLocked() error {
	list := r.sortedLocked()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("dbregistry: encode: %w", err)
	}
	if err := r.store.Write(r.file, data); err != nil {
		return fmt.Errorf("dbregistry: save: %w", err)
	}
	return nil
}

func validateSummary(d *models.DatabaseSummary) error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.Location, validation.Required),
		validation.Field(&d.Key, validation.By(validateKey)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidField, err)
	}
	return nil
}

// validateKey accepts an empty key or a hex-encoded AES-128/192/256 key.
func validateKey(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return errors.New("must be hex encoded")
	}
	switch len(raw) {
	case 16, 24, 32:
		return nil
	}
	return errors.New("must be 16, 24 or 32 bytes")
}

func normalizeLocation(loc string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(loc))
	if err != nil {
		return "", fmt.Errorf("%w: location: %w", apperr.ErrInvalidField, err)
	}
	return abs, nil
}
