package snapshot

import (
	"context"

	"github.com/starford/entbrowser/internal/entitystore"
	"github.com/starford/entbrowser/internal/query"
)

// DeleteMatching deletes every entity of typeName matching pred and returns
// how many were removed. An unknown type deletes nothing.
func DeleteMatching(ctx context.Context, st *entitystore.Store, typeName string, pred query.Predicate, p Progress) (int, error) {
	if p == nil {
		p = nopProgress{}
	}
	typeID, ok, err := st.TypeID(typeName)
	if err != nil || !ok {
		return 0, err
	}
	matches, _, err := st.Query(ctx, typeID, pred.Filter(), 0, 0)
	if err != nil {
		return 0, err
	}
	p.SetTotal(int64(len(matches)))

	deleted := 0
	for _, e := range matches {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := st.Delete(e.ID); err != nil {
			return deleted, err
		}
		deleted++
		p.Add(1)
	}
	return deleted, nil
}
