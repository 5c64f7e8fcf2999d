package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/entbrowser/internal/app"
	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/storage"
)

// Handler holds API route handlers.
type Handler struct {
	reg    *app.Registry
	files  storage.Provider
	events Events
	log    *slog.Logger
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(reg *app.Registry, files storage.Provider, events Events, logger *slog.Logger) *Handler {
	return &Handler{reg: reg, files: files, events: events, log: logger}
}

func (h *Handler) publish(kind string, d models.DatabaseSummary) {
	if h.events != nil {
		h.events.PublishDatabase(kind, d)
	}
}

type servicesKey struct{}

// requireOpen resolves {uuid} to the services of an open database and
// stores them in the request context.
func (h *Handler) requireOpen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uuid")
		s, ok := h.reg.Get(id)
		if !ok {
			if _, err := h.reg.Databases().Find(id); err != nil {
				writeError(w, h.log, err)
				return
			}
			writeError(w, h.log, fmt.Errorf("%w: database %s is not open", apperr.ErrNotFound, id))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), servicesKey{}, s)))
	})
}

func services(r *http.Request) *app.Services {
	return r.Context().Value(servicesKey{}).(*app.Services)
}

// paging reads the offset and pageSize query parameters. Absent values are
// zero and resolved to defaults by the store service.
func paging(r *http.Request) (offset, pageSize int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: offset must be an integer", apperr.ErrInvalidField)
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: pageSize must be an integer", apperr.ErrInvalidField)
		}
	}
	return offset, pageSize, nil
}

// ListDatabases handles GET /api/dbs.
//
//	@Summary		List registered databases
//	@Tags			databases
//	@Produce		json
//	@Success		200	{array}	DatabaseSummary
//	@Router			/dbs [get]
func (h *Handler) ListDatabases(w http.ResponseWriter, _ *http.Request) {
	all := h.reg.Databases().All()
	out := make([]models.DatabaseSummary, 0, len(all))
	for _, d := range all {
		out = append(out, d.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

// RegisterDatabase handles POST /api/dbs.
//
//	@Summary		Register a database location, optionally opening it
//	@Tags			databases
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterDatabaseRequest	true	"Database to register"
//	@Success		201		{object}	DatabaseSummary
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/dbs [post]
func (h *Handler) RegisterDatabase(w http.ResponseWriter, r *http.Request) {
	var req RegisterDatabaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	d, err := h.reg.Databases().Add(models.DatabaseSummary{
		Location:        req.Location,
		Key:             req.Key,
		IsReadonly:      req.IsReadonly,
		IsWatchReadonly: req.IsWatchReadonly,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("database registered", slog.String("db", d.UUID), slog.String("location", d.Location))
	h.publish("registered", d)

	if req.Open {
		if d, err = h.open(d.UUID); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, d.Public())
}

// GetDatabase handles GET /api/dbs/{uuid}.
//
//	@Summary		Inspect a registered database
//	@Tags			databases
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Success		200		{object}	DatabaseSummary
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid} [get]
func (h *Handler) GetDatabase(w http.ResponseWriter, r *http.Request) {
	d, err := h.reg.Databases().Find(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Public())
}

// UpdateDatabase handles PUT /api/dbs/{uuid}.
//
//	@Summary		Change database flags; an open database is reopened
//	@Tags			databases
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string					true	"Database id"
//	@Param			body	body		UpdateDatabaseRequest	true	"Flags to change"
//	@Success		200		{object}	DatabaseSummary
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid} [put]
func (h *Handler) UpdateDatabase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	var req UpdateDatabaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	d, err := h.reg.Reconfigure(id, func(d *models.DatabaseSummary) {
		if req.Key != nil {
			d.Key = *req.Key
		}
		if req.IsReadonly != nil {
			d.IsReadonly = *req.IsReadonly
		}
		if req.IsWatchReadonly != nil {
			d.IsWatchReadonly = *req.IsWatchReadonly
		}
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.publish("updated", d)
	writeJSON(w, http.StatusOK, d.Public())
}

// DeleteDatabase handles DELETE /api/dbs/{uuid}.
//
//	@Summary		Close and forget a database; store files are kept
//	@Tags			databases
//	@Param			uuid	path	string	true	"Database id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Router			/dbs/{uuid} [delete]
func (h *Handler) DeleteDatabase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	if err := h.reg.Stop(id); err != nil {
		writeError(w, h.log, err)
		return
	}
	d, err := h.reg.Databases().Find(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.reg.Databases().Delete(id); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("database forgotten", slog.String("db", id))
	h.publish("forgotten", d)
	w.WriteHeader(http.StatusNoContent)
}

// OpenDatabase handles POST /api/dbs/{uuid}/open.
//
//	@Summary		Open a database and remember it as opened
//	@Tags			databases
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Success		200		{object}	DatabaseSummary
//	@Failure		404		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Router			/dbs/{uuid}/open [post]
func (h *Handler) OpenDatabase(w http.ResponseWriter, r *http.Request) {
	d, err := h.open(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Public())
}

// CloseDatabase handles POST /api/dbs/{uuid}/close.
//
//	@Summary		Stop a database's jobs and close its store
//	@Tags			databases
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Success		200		{object}	DatabaseSummary
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/close [post]
func (h *Handler) CloseDatabase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	if _, err := h.reg.Databases().Find(id); err != nil {
		writeError(w, h.log, err)
		return
	}
	stopErr := h.reg.Stop(id)
	d, err := h.reg.Databases().Update(id, func(d *models.DatabaseSummary) { d.IsOpened = false })
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if stopErr != nil {
		writeError(w, h.log, stopErr)
		return
	}
	writeJSON(w, http.StatusOK, d.Public())
}

// open opens id and persists isOpened. A failed open leaves the flag alone.
func (h *Handler) open(id string) (models.DatabaseSummary, error) {
	if _, err := h.reg.Open(id); err != nil {
		return models.DatabaseSummary{}, err
	}
	return h.reg.Databases().Update(id, func(d *models.DatabaseSummary) { d.IsOpened = true })
}
