// Package entitystore implements the embedded entity database on top of
// BadgerDB. Entities are grouped by type, carry typed properties, named links
// to other entities and binary blobs.
//
// Key namespaces:
//
//	t:<name>                          type id (decimal)
//	tn:<typeId>                       type name
//	seq:type                          last allocated type id
//	seq:e:<typeId>                    last allocated local id for the type
//	e:<typeId>:<localId>              entity record (JSON)
//	l:<src>:<name>\x00<dst>           outgoing link
//	r:<dst>:<src>:<name>              incoming link (reverse index)
//	b:<id>:<name>                     blob payload
//
// Ids inside keys are zero padded so prefix scans return entities ordered by
// local id.
package entitystore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/starford/entbrowser/internal/apperr"
)

// Options configures how a store is opened.
type Options struct {
	Location string
	Key      string // hex-encoded AES key, empty for plain stores
	ReadOnly bool
	InMemory bool
	Logger   *slog.Logger
}

// Store is one open handle to an entity database.
type Store struct {
	db       *badgerdb.DB
	location string
	readOnly bool
}

// Open opens (or creates, unless read-only) the store at opts.Location.
// Badger holds a directory lock until Close is called.
func Open(opts Options) (*Store, error) {
	bopts := badgerdb.DefaultOptions(opts.Location)
	if opts.InMemory {
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithReadOnly(opts.ReadOnly && !opts.InMemory).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithNumVersionsToKeep(1)

	if opts.Key != "" {
		key, err := hex.DecodeString(opts.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: encryption key must be hex encoded", apperr.ErrInvalidField)
		}
		bopts = bopts.WithEncryptionKey(key).WithIndexCacheSize(16 << 20)
	}

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", apperr.ErrDatabase, opts.Location, err)
	}
	return &Store{db: db, location: opts.Location, readOnly: opts.ReadOnly}, nil
}

// Close releases the handle and the directory lock.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", apperr.ErrDatabase, s.location, err)
	}
	return nil
}

// ReadOnly reports whether the store was opened without write access.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Location returns the directory the store was opened from.
func (s *Store) Location() string {
	return s.location
}

func (s *Store) update(fn func(txn *badgerdb.Txn) error) error {
	if s.readOnly {
		return fmt.Errorf("%w: %s", apperr.ErrReadOnly, s.location)
	}
	return translate(s.db.Update(fn))
}

func (s *Store) view(fn func(txn *badgerdb.Txn) error) error {
	return translate(s.db.View(fn))
}

// translate maps native badger errors to apperr kinds.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.Known(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", apperr.ErrEntityNotFound, err)
	case errors.Is(err, badgerdb.ErrReadOnlyTxn):
		return fmt.Errorf("%w: %w", apperr.ErrReadOnly, err)
	case errors.Is(err, badgerdb.ErrTxnTooBig):
		return fmt.Errorf("%w: change too large for one transaction: %w", apperr.ErrDatabase, err)
	default:
		return fmt.Errorf("%w: %w", apperr.ErrDatabase, err)
	}
}

// badgerLogger routes badger's printf-style logging into slog. Badger is
// chatty at info level, so info and debug both go to debug.
type badgerLogger struct {
	l *slog.Logger
}

func newBadgerLogger(l *slog.Logger) badgerLogger {
	if l == nil {
		l = slog.Default()
	}
	return badgerLogger{l: l.With(slog.String("component", "badger"))}
}

func (b badgerLogger) Errorf(f string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (b badgerLogger) Warningf(f string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (b badgerLogger) Infof(f string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (b badgerLogger) Debugf(f string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
