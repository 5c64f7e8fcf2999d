package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/entityservice"
)

// multipart framing on top of the payload itself
const multipartOverhead = 1 << 20

// GetBlob handles GET /api/dbs/{uuid}/entities/{id}/blobs/{name}.
//
//	@Summary		Download a blob
//	@Tags			blobs
//	@Produce		octet-stream
//	@Param			uuid	path	string	true	"Database id"
//	@Param			id		path	string	true	"Entity id"
//	@Param			name	path	string	true	"Blob name"
//	@Success		200		{file}	binary
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/entities/{id}/blobs/{name} [get]
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	data, err := services(r).Store.Blob(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// PutBlob handles PUT /api/dbs/{uuid}/entities/{id}/blobs/{name}. The body
// is either the raw payload or multipart/form-data with a "file" field.
//
//	@Summary		Upload or replace a blob
//	@Tags			blobs
//	@Accept			octet-stream,mpfd
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Param			id		path		string	true	"Entity id"
//	@Param			name	path		string	true	"Blob name"
//	@Success		200		{object}	models.BlobView
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Router			/dbs/{uuid}/entities/{id}/blobs/{name} [put]
func (h *Handler) PutBlob(w http.ResponseWriter, r *http.Request) {
	data, err := readBlobBody(w, r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	view, err := services(r).Store.PutBlob(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), data)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func readBlobBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, entityservice.MaxBlobSize)
		return io.ReadAll(r.Body)
	}

	r.Body = http.MaxBytesReader(w, r.Body, entityservice.MaxBlobSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: file too large or invalid multipart", apperr.ErrInvalidField)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing 'file' field in multipart form", apperr.ErrInvalidField)
	}
	defer file.Close()
	return io.ReadAll(file)
}
