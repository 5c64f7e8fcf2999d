package entitystore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Filter selects entities in Query. A nil filter matches everything.
type Filter func(*Entity) bool

// TypeInfo is an entity type with its current entity count.
type TypeInfo struct {
	ID    int
	Name  string
	Count int
}

// Types lists every entity type ordered by id.
func (s *Store) Types(ctx context.Context) ([]TypeInfo, error) {
	var out []TypeInfo
	err := s.view(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixTypeName)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := strconv.Atoi(strings.TrimPrefix(string(item.Key()), prefixTypeName))
			if err != nil {
				return err
			}
			name, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keys, err := collectKeys(txn, keyEntityPrefix(id))
			if err != nil {
				return err
			}
			out = append(out, TypeInfo{ID: id, Name: string(name), Count: len(keys)})
		}
		return nil
	})
	return out, err
}

// TypeID resolves a type name. ok is false when the type was never created.
func (s *Store) TypeID(name string) (id int, ok bool, err error) {
	err = s.view(func(txn *badgerdb.Txn) error {
		item, getErr := txn.Get(keyType(name))
		if errors.Is(getErr, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		ok = true
		return item.Value(func(val []byte) error {
			var convErr error
			id, convErr = strconv.Atoi(string(val))
			return convErr
		})
	})
	return id, ok, err
}

// Query returns one page of entities of the given type that pass filter,
// ordered by local id, plus the number of matches in the whole type.
// A non-positive limit returns every match.
func (s *Store) Query(ctx context.Context, typeID int, filter Filter, offset, limit int) ([]*Entity, int, error) {
	var page []*Entity
	total := 0
	err := s.view(func(txn *badgerdb.Txn) error {
		prefix := keyEntityPrefix(typeID)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = filter != nil
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if total%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			item := it.Item()
			inPage := total >= offset && (limit <= 0 || len(page) < limit)
			if filter == nil && !inPage {
				total++
				continue
			}

			id, err := parseIDKey(strings.TrimPrefix(string(item.Key()), prefixEntity))
			if err != nil {
				return err
			}
			var rec *record
			if err := item.Value(func(val []byte) error {
				var decErr error
				rec, decErr = decodeRecord(val)
				return decErr
			}); err != nil {
				return err
			}
			e, err := buildEntity(txn, id, rec)
			if err != nil {
				return err
			}
			if filter != nil && !filter(e) {
				continue
			}
			if inPage {
				page = append(page, e)
			}
			total++
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// Linked returns one page of the targets of the named link of id, plus the
// total number of targets.
func (s *Store) Linked(ctx context.Context, id EntityID, name string, offset, limit int) ([]*Entity, int, error) {
	var page []*Entity
	total := 0
	err := s.view(func(txn *badgerdb.Txn) error {
		if _, err := getRecord(txn, id); err != nil {
			return err
		}
		keys, err := collectKeys(txn, keyLinkNamePrefix(id, name))
		if err != nil {
			return err
		}
		total = len(keys)
		for i, k := range keys {
			if i < offset {
				continue
			}
			if limit > 0 && len(page) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			_, dst, err := splitLinkKey(k, id)
			if err != nil {
				return err
			}
			e, err := loadEntity(txn, dst)
			if err != nil {
				return err
			}
			page = append(page, e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// Scan calls fn for every entity of every type, in key order, inside a single
// read snapshot. Returning an error from fn stops the scan.
func (s *Store) Scan(ctx context.Context, fn func(*Entity) error) error {
	return s.view(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixEntity)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := parseIDKey(strings.TrimPrefix(string(item.Key()), prefixEntity))
			if err != nil {
				return err
			}
			var rec *record
			if err := item.Value(func(val []byte) error {
				var decErr error
				rec, decErr = decodeRecord(val)
				return decErr
			}); err != nil {
				return err
			}
			e, err := buildEntity(txn, id, rec)
			if err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of entities across all types.
func (s *Store) Count(ctx context.Context) (int, error) {
	types, err := s.Types(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range types {
		n += t.Count
	}
	return n, nil
}
