package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/entbrowser/internal/jobs"
	"github.com/starford/entbrowser/internal/snapshot"
)

// ListJobs handles GET /api/dbs/{uuid}/jobs.
//
//	@Summary		List the jobs of a database, newest first
//	@Tags			jobs
//	@Produce		json
//	@Param			uuid	path	string	true	"Database id"
//	@Success		200		{array}	Job
//	@Router			/dbs/{uuid}/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, services(r).Jobs.List())
}

// StartJob handles POST /api/dbs/{uuid}/jobs.
//
//	@Summary		Start an export, import or bulk delete job
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string			true	"Database id"
//	@Param			body	body		StartJobRequest	true	"Job to start"
//	@Success		202		{object}	Job
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/jobs [post]
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	s := services(r)

	var (
		run jobs.RunFunc
		err error
	)
	switch req.Kind {
	case snapshot.KindExport:
		run = snapshot.ExportJob(h.files, s.Store)
	case snapshot.KindImport:
		run, err = snapshot.ImportJob(h.files, s.Store, req.File)
	case snapshot.KindDelete:
		run, err = snapshot.DeleteJob(s.Store, req.Type, req.Q)
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	job, err := s.Jobs.Start(req.Kind, run)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("job started", slog.String("db", s.Database.UUID), slog.String("job", job.ID), slog.String("kind", job.Kind))
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/dbs/{uuid}/jobs/{id}.
//
//	@Summary		Get the status of a job
//	@Tags			jobs
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Param			id		path		string	true	"Job id"
//	@Success		200		{object}	Job
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := services(r).Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /api/dbs/{uuid}/jobs/{id}.
//
//	@Summary		Request cancellation of a job
//	@Tags			jobs
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Param			id		path		string	true	"Job id"
//	@Success		202		{object}	Job
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/jobs/{id} [delete]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	s := services(r)
	id := chi.URLParam(r, "id")
	if err := s.Jobs.Cancel(id); err != nil {
		writeError(w, h.log, err)
		return
	}
	job, err := s.Jobs.Get(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
