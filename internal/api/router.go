package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/entbrowser/internal/app"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/storage"
)

// Events is the SSE stream. Registry changes made through the API are
// published on it.
type Events interface {
	http.Handler
	PublishDatabase(kind string, db models.DatabaseSummary)
}

// NewRouter creates a chi router with all API routes mounted.
// files is the data directory holding export files.
// events, if non-nil, is mounted at GET /events.
func NewRouter(reg *app.Registry, files storage.Provider, events Events, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(reg, files, events, logger)

	r := chi.NewRouter()

	r.Route("/dbs", func(r chi.Router) {
		r.Get("/", h.ListDatabases)
		r.Post("/", h.RegisterDatabase)

		r.Route("/{uuid}", func(r chi.Router) {
			r.Get("/", h.GetDatabase)
			r.Put("/", h.UpdateDatabase)
			r.Delete("/", h.DeleteDatabase)
			r.Post("/open", h.OpenDatabase)
			r.Post("/close", h.CloseDatabase)

			r.Group(func(r chi.Router) {
				r.Use(h.requireOpen)

				r.Get("/types", h.ListTypes)

				r.Get("/entities", h.SearchEntities)
				r.Post("/entities", h.CreateEntity)
				r.Get("/entities/{id}", h.GetEntity)
				r.Put("/entities/{id}", h.UpdateEntity)
				r.Delete("/entities/{id}", h.DeleteEntity)
				r.Get("/entities/{id}/links/{name}", h.LinkedEntities)
				r.Get("/entities/{id}/blobs/{name}", h.GetBlob)
				r.Put("/entities/{id}/blobs/{name}", h.PutBlob)

				r.Get("/jobs", h.ListJobs)
				r.Post("/jobs", h.StartJob)
				r.Get("/jobs/{id}", h.GetJob)
				r.Delete("/jobs/{id}", h.CancelJob)
			})
		})
	})

	r.Get("/exports", h.ListExports)
	r.Get("/exports/{name}", h.DownloadExport)
	r.Delete("/exports/{name}", h.DeleteExport)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
