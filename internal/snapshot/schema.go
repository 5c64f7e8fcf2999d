// Package snapshot exports the content of an entity store to a SQLite file
// and imports it back. It also hosts the bulk delete operation; all three
// run as background jobs.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// FormatVersion is written to the meta table of every export.
const FormatVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id       TEXT PRIMARY KEY,
	type     TEXT NOT NULL,
	type_id  INTEGER NOT NULL,
	local_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS properties (
	entity_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	type      TEXT NOT NULL,
	value     TEXT NOT NULL,
	UNIQUE(entity_id, name)
);

CREATE TABLE IF NOT EXISTS links (
	source TEXT NOT NULL,
	name   TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, name, target)
);

CREATE TABLE IF NOT EXISTS blobs (
	entity_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	checksum  TEXT NOT NULL DEFAULT '',
	data      BLOB NOT NULL,
	UNIQUE(entity_id, name)
);

CREATE INDEX IF NOT EXISTS idx_entities_order ON entities(type_id, local_id);
CREATE INDEX IF NOT EXISTS idx_properties_entity ON properties(entity_id);
`

// archive wraps one snapshot file.
type archive struct {
	conn *sql.DB
}

// create opens a new snapshot file for writing and applies the schema.
func create(path string) (*archive, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=DELETE&_synchronous=OFF")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: apply schema: %w", err)
	}
	return &archive{conn: conn}, nil
}

// openReadOnly opens an existing snapshot and checks its format version.
func openReadOnly(path string) (*archive, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	a := &archive{conn: conn}
	v, err := a.meta(context.Background(), "format")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: %s is not an export file: %w", path, err)
	}
	if n, _ := strconv.Atoi(v); n != FormatVersion {
		conn.Close()
		return nil, fmt.Errorf("snapshot: unsupported format version %q", v)
	}
	return a, nil
}

func (a *archive) Close() error {
	return a.conn.Close()
}

func (a *archive) meta(ctx context.Context, key string) (string, error) {
	var v string
	err := a.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	return v, err
}
