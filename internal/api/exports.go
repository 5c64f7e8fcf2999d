package api

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/snapshot"
)

// ListExports handles GET /api/exports.
//
//	@Summary		List export files, newest first
//	@Tags			exports
//	@Produce		json
//	@Success		200	{array}	ExportFile
//	@Router			/exports [get]
func (h *Handler) ListExports(w http.ResponseWriter, _ *http.Request) {
	files, err := h.files.List(snapshot.ExportDir, snapshot.Ext)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].UpdatedAt.After(files[j].UpdatedAt) })
	out := make([]ExportFile, 0, len(files))
	for _, f := range files {
		out = append(out, ExportFile{Name: path.Base(f.Path), FileMetadata: f})
	}
	writeJSON(w, http.StatusOK, out)
}

// DownloadExport handles GET /api/exports/{name}.
//
//	@Summary		Download an export file
//	@Tags			exports
//	@Produce		octet-stream
//	@Param			name	path	string	true	"Export file name"
//	@Success		200		{file}	binary
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/exports/{name} [get]
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rel, err := snapshot.ExportPath(name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	f, err := h.files.Open(rel)
	if err != nil {
		writeError(w, h.log, notFound(err, name))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, time.Time{}, f)
}

// DeleteExport handles DELETE /api/exports/{name}.
//
//	@Summary		Delete an export file
//	@Tags			exports
//	@Param			name	path	string	true	"Export file name"
//	@Success		204
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Router			/exports/{name} [delete]
func (h *Handler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rel, err := snapshot.ExportPath(name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.files.Delete(rel); err != nil {
		writeError(w, h.log, notFound(err, name))
		return
	}
	h.log.Info("export deleted", slog.String("file", name))
	w.WriteHeader(http.StatusNoContent)
}

func notFound(err error, name string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: export %s", apperr.ErrNotFound, name)
	}
	return err
}
