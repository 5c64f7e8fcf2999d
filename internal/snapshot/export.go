package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/starford/entbrowser/internal/entitystore"
)

// Progress receives work counters from a running export, import or delete.
type Progress interface {
	SetTotal(n int64)
	Add(n int64)
}

type nopProgress struct{}

func (nopProgress) SetTotal(int64) {}
func (nopProgress) Add(int64)      {}

// Export writes every entity of st, with properties, links and blobs, to a
// new SQLite file at path. The file appears only once complete.
// It returns the number of exported entities.
func Export(ctx context.Context, st *entitystore.Store, path string, p Progress) (int, error) {
	if p == nil {
		p = nopProgress{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("snapshot: mkdir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), ".entbrowser-tmp-"+filepath.Base(path))
	_ = os.Remove(tmp)

	a, err := create(tmp)
	if err != nil {
		return 0, err
	}
	success := false
	defer func() {
		if !success {
			_ = a.Close()
			_ = os.Remove(tmp)
		}
	}()

	total, err := st.Count(ctx)
	if err != nil {
		return 0, err
	}
	p.SetTotal(int64(total))

	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insEntity, err := tx.PrepareContext(ctx, `INSERT INTO entities (id, type, type_id, local_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prepare entity insert: %w", err)
	}
	defer insEntity.Close()
	insProp, err := tx.PrepareContext(ctx, `INSERT INTO properties (entity_id, name, type, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prepare property insert: %w", err)
	}
	defer insProp.Close()
	insLink, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO links (source, name, target) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prepare link insert: %w", err)
	}
	defer insLink.Close()
	insBlob, err := tx.PrepareContext(ctx, `INSERT INTO blobs (entity_id, name, checksum, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prepare blob insert: %w", err)
	}
	defer insBlob.Close()

	count := 0
	err = st.Scan(ctx, func(e *entitystore.Entity) error {
		id := e.ID.String()
		if _, err := insEntity.ExecContext(ctx, id, e.Type, e.ID.TypeID, e.ID.LocalID); err != nil {
			return fmt.Errorf("snapshot: insert entity %s: %w", id, err)
		}
		for _, name := range e.PropertyNames() {
			v := e.Properties[name]
			if _, err := insProp.ExecContext(ctx, id, name, v.Type, v.Text()); err != nil {
				return fmt.Errorf("snapshot: insert property %s.%s: %w", id, name, err)
			}
		}
		for _, name := range e.LinkNames() {
			for _, target := range e.Links[name] {
				if _, err := insLink.ExecContext(ctx, id, name, target.String()); err != nil {
					return fmt.Errorf("snapshot: insert link %s.%s: %w", id, name, err)
				}
			}
		}
		for _, name := range e.BlobNames() {
			data, err := st.Blob(e.ID, name)
			if err != nil {
				return err
			}
			if _, err := insBlob.ExecContext(ctx, id, name, e.Blobs[name].Checksum, data); err != nil {
				return fmt.Errorf("snapshot: insert blob %s.%s: %w", id, name, err)
			}
		}
		count++
		p.Add(1)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for k, v := range map[string]string{
		"format":     strconv.Itoa(FormatVersion),
		"location":   st.Location(),
		"entities":   strconv.Itoa(count),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return 0, fmt.Errorf("snapshot: write meta: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("snapshot: commit: %w", err)
	}
	if err := a.Close(); err != nil {
		return 0, fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("snapshot: rename: %w", err)
	}
	success = true
	return count, nil
}
