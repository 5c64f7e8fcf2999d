package snapshot

import (
	"context"
	"fmt"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/entitystore"
)

type importedEntity struct {
	oldID    string
	typeName string
}

// Import recreates every entity of the export at path inside st. Entities
// get fresh ids; links are remapped to them and links to entities missing
// from the export are dropped. It returns the number of imported entities.
func Import(ctx context.Context, st *entitystore.Store, path string, p Progress) (int, error) {
	if p == nil {
		p = nopProgress{}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a, err := openReadOnly(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrInvalidField, err)
	}
	defer a.Close()

	entities, err := a.entities(ctx)
	if err != nil {
		return 0, err
	}
	p.SetTotal(int64(len(entities)))

	idMap := make(map[string]entitystore.EntityID, len(entities))
	for _, ie := range entities {
		if err := ctx.Err(); err != nil {
			return len(idMap), err
		}
		props, err := a.properties(ctx, ie.oldID)
		if err != nil {
			return len(idMap), err
		}
		e, err := st.Create(ie.typeName, props, nil)
		if err != nil {
			return len(idMap), fmt.Errorf("import %s: %w", ie.oldID, err)
		}
		idMap[ie.oldID] = e.ID
		p.Add(1)
	}

	if err := a.restoreLinks(ctx, st, idMap); err != nil {
		return len(idMap), err
	}
	if err := a.restoreBlobs(ctx, st, idMap); err != nil {
		return len(idMap), err
	}
	return len(idMap), nil
}

func (a *archive) entities(ctx context.Context) ([]importedEntity, error) {
	rows, err := a.conn.QueryContext(ctx, `SELECT id, type FROM entities ORDER BY type_id, local_id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list entities: %w", err)
	}
	defer rows.Close()
	var out []importedEntity
	for rows.Next() {
		var ie importedEntity
		if err := rows.Scan(&ie.oldID, &ie.typeName); err != nil {
			return nil, err
		}
		out = append(out, ie)
	}
	return out, rows.Err()
}

func (a *archive) properties(ctx context.Context, id string) (map[string]entitystore.Value, error) {
	rows, err := a.conn.QueryContext(ctx, `SELECT name, type, value FROM properties WHERE entity_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("snapshot: properties of %s: %w", id, err)
	}
	defer rows.Close()
	props := make(map[string]entitystore.Value)
	for rows.Next() {
		var name, typ, raw string
		if err := rows.Scan(&name, &typ, &raw); err != nil {
			return nil, err
		}
		v, err := entitystore.ParseValue(typ, raw)
		if err != nil {
			return nil, fmt.Errorf("property %s.%s: %w", id, name, err)
		}
		props[name] = v
	}
	return props, rows.Err()
}

func (a *archive) restoreLinks(ctx context.Context, st *entitystore.Store, idMap map[string]entitystore.EntityID) error {
	rows, err := a.conn.QueryContext(ctx, `SELECT source, name, target FROM links ORDER BY source`)
	if err != nil {
		return fmt.Errorf("snapshot: list links: %w", err)
	}
	defer rows.Close()

	pending := make(map[entitystore.EntityID][]entitystore.Link)
	var order []entitystore.EntityID
	for rows.Next() {
		var src, name, dst string
		if err := rows.Scan(&src, &name, &dst); err != nil {
			return err
		}
		from, okFrom := idMap[src]
		to, okTo := idMap[dst]
		if !okFrom || !okTo {
			continue
		}
		if _, seen := pending[from]; !seen {
			order = append(order, from)
		}
		pending[from] = append(pending[from], entitystore.Link{Name: name, Target: to})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, from := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := st.Update(from, entitystore.Changes{AddLinks: pending[from]}); err != nil {
			return fmt.Errorf("import links of %s: %w", from, err)
		}
	}
	return nil
}

func (a *archive) restoreBlobs(ctx context.Context, st *entitystore.Store, idMap map[string]entitystore.EntityID) error {
	rows, err := a.conn.QueryContext(ctx, `SELECT entity_id, name, data FROM blobs`)
	if err != nil {
		return fmt.Errorf("snapshot: list blobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var id, name string
		var data []byte
		if err := rows.Scan(&id, &name, &data); err != nil {
			return err
		}
		to, ok := idMap[id]
		if !ok {
			continue
		}
		if _, err := st.PutBlob(to, name, data); err != nil {
			return fmt.Errorf("import blob %s.%s: %w", id, name, err)
		}
	}
	return rows.Err()
}
