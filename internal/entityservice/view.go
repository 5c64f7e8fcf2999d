package entityservice

import (
	"fmt"
	"strings"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/entitystore"
	"github.com/starford/entbrowser/internal/models"
)

var labelProperties = []string{"name", "title", "login", "label"}

// Label returns the display label of e: the first non-empty of its name,
// title, login or label string properties, else "<Type>[<localId>]".
func Label(e *entitystore.Entity) string {
	for _, p := range labelProperties {
		v, ok := e.Properties[p]
		if !ok || v.Type != models.TypeString {
			continue
		}
		if s := strings.TrimSpace(v.Data.(string)); s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s[%d]", e.Type, e.ID.LocalID)
}

// project builds the EntityView of e. Link targets are resolved through st
// and capped at linkPreview per link.
func project(st *entitystore.Store, e *entitystore.Entity) models.EntityView {
	view := models.EntityView{
		ID:         e.ID.String(),
		Type:       e.Type,
		TypeID:     e.ID.TypeID,
		Label:      Label(e),
		Properties: make([]models.PropertyView, 0, len(e.Properties)),
		Links:      make([]models.LinkView, 0, len(e.Links)),
		Blobs:      make([]models.BlobView, 0, len(e.Blobs)),
	}
	for _, name := range e.PropertyNames() {
		v := e.Properties[name]
		view.Properties = append(view.Properties, models.PropertyView{Name: name, Type: v.Type, Value: v.Display()})
	}
	for _, name := range e.LinkNames() {
		ids := e.Links[name]
		lv := models.LinkView{Name: name, Targets: []models.LinkTarget{}, TotalCount: len(ids)}
		for i, id := range ids {
			if i >= linkPreview {
				break
			}
			lv.Targets = append(lv.Targets, linkTarget(st, id))
		}
		view.Links = append(view.Links, lv)
	}
	for _, name := range e.BlobNames() {
		b := e.Blobs[name]
		view.Blobs = append(view.Blobs, models.BlobView{Name: name, Size: b.Size, Checksum: b.Checksum})
	}
	return view
}

func linkTarget(st *entitystore.Store, id entitystore.EntityID) models.LinkTarget {
	t := models.LinkTarget{ID: id.String()}
	target, err := st.Get(id)
	if err != nil {
		return t
	}
	t.Type = target.Type
	t.Label = Label(target)
	return t
}

func parseProperties(in []models.PropertyView) (map[string]entitystore.Value, error) {
	props := make(map[string]entitystore.Value, len(in))
	for _, p := range in {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: property name is required", apperr.ErrInvalidField)
		}
		if _, dup := props[p.Name]; dup {
			return nil, fmt.Errorf("%w: property %q given twice", apperr.ErrInvalidField, p.Name)
		}
		v, err := entitystore.ParseValue(p.Type, p.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Name, err)
		}
		props[p.Name] = v
	}
	return props, nil
}

func parseLinks(in []models.LinkChange) ([]entitystore.Link, error) {
	out := make([]entitystore.Link, 0, len(in))
	for _, l := range in {
		target, err := entitystore.ParseID(l.Target)
		if err != nil {
			return nil, err
		}
		out = append(out, entitystore.Link{Name: l.Name, Target: target})
	}
	return out, nil
}

func parseChanges(ch models.ChangeSummary) (entitystore.Changes, error) {
	set, err := parseProperties(ch.Properties)
	if err != nil {
		return entitystore.Changes{}, err
	}
	add, err := parseLinks(ch.AddLinks)
	if err != nil {
		return entitystore.Changes{}, err
	}
	remove, err := parseLinks(ch.RemoveLinks)
	if err != nil {
		return entitystore.Changes{}, err
	}
	return entitystore.Changes{
		Set:         set,
		Unset:       ch.RemoveProperties,
		AddLinks:    add,
		RemoveLinks: remove,
		RemoveBlobs: ch.RemoveBlobs,
	}, nil
}
