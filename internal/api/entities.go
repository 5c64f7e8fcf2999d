package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListTypes handles GET /api/dbs/{uuid}/types.
//
//	@Summary		List entity types with their entity counts
//	@Tags			entities
//	@Produce		json
//	@Param			uuid	path	string	true	"Database id"
//	@Success		200		{array}	models.EntityTypeView
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/types [get]
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := services(r).Store.Types(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

// SearchEntities handles GET /api/dbs/{uuid}/entities.
//
//	@Summary		Search entities of one type
//	@Tags			entities
//	@Produce		json
//	@Param			uuid		path		string	true	"Database id"
//	@Param			type		query		string	true	"Entity type name"
//	@Param			q			query		string	false	"Search query"
//	@Param			offset		query		int		false	"Page offset"
//	@Param			pageSize	query		int		false	"Page size"
//	@Success		200			{object}	SearchPager
//	@Failure		400			{object}	errResponse
//	@Router			/dbs/{uuid}/entities [get]
func (h *Handler) SearchEntities(w http.ResponseWriter, r *http.Request) {
	offset, pageSize, err := paging(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	q := r.URL.Query()
	pager, err := services(r).Store.Search(r.Context(), q.Get("type"), q.Get("q"), offset, pageSize)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pager)
}

// CreateEntity handles POST /api/dbs/{uuid}/entities.
//
//	@Summary		Create an entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string		true	"Database id"
//	@Param			body	body		EntityView	true	"Entity to create"
//	@Success		201		{object}	EntityView
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Router			/dbs/{uuid}/entities [post]
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityView
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	view, err := services(r).Store.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetEntity handles GET /api/dbs/{uuid}/entities/{id}.
//
//	@Summary		Get one entity
//	@Tags			entities
//	@Produce		json
//	@Param			uuid	path		string	true	"Database id"
//	@Param			id		path		string	true	"Entity id"	example(1-4)
//	@Success		200		{object}	EntityView
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	view, err := services(r).Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateEntity handles PUT /api/dbs/{uuid}/entities/{id}.
//
//	@Summary		Apply property, link and blob changes to an entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			uuid	path		string			true	"Database id"
//	@Param			id		path		string			true	"Entity id"
//	@Param			body	body		ChangeSummary	true	"Changes"
//	@Success		200		{object}	EntityView
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/dbs/{uuid}/entities/{id} [put]
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req ChangeSummary
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	view, err := services(r).Store.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteEntity handles DELETE /api/dbs/{uuid}/entities/{id}.
//
//	@Summary		Delete an entity and every link pointing at it
//	@Tags			entities
//	@Param			uuid	path	string	true	"Database id"
//	@Param			id		path	string	true	"Entity id"
//	@Success		204
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Router			/dbs/{uuid}/entities/{id} [delete]
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := services(r).Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LinkedEntities handles GET /api/dbs/{uuid}/entities/{id}/links/{name}.
//
//	@Summary		Page through the targets of a link
//	@Tags			entities
//	@Produce		json
//	@Param			uuid		path		string	true	"Database id"
//	@Param			id			path		string	true	"Entity id"
//	@Param			name		path		string	true	"Link name"
//	@Param			offset		query		int		false	"Page offset"
//	@Param			pageSize	query		int		false	"Page size"
//	@Success		200			{object}	SearchPager
//	@Failure		404			{object}	errResponse
//	@Router			/dbs/{uuid}/entities/{id}/links/{name} [get]
func (h *Handler) LinkedEntities(w http.ResponseWriter, r *http.Request) {
	offset, pageSize, err := paging(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	pager, err := services(r).Store.Linked(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), offset, pageSize)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pager)
}
