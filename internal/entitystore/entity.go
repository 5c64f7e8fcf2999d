package entitystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/checksum"
)

// BlobInfo describes a stored blob without its payload.
type BlobInfo struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Entity is a fully loaded entity.
type Entity struct {
	ID         EntityID
	Type       string
	Properties map[string]Value
	Links      map[string][]EntityID
	Blobs      map[string]BlobInfo
}

// PropertyNames returns the property names in lexical order.
func (e *Entity) PropertyNames() []string {
	return sortedKeys(e.Properties)
}

// LinkNames returns the link names in lexical order.
func (e *Entity) LinkNames() []string {
	return sortedKeys(e.Links)
}

// BlobNames returns the blob names in lexical order.
func (e *Entity) BlobNames() []string {
	return sortedKeys(e.Blobs)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Link is one named reference to a target entity.
type Link struct {
	Name   string
	Target EntityID
}

// Changes is a set of modifications applied atomically by Update.
type Changes struct {
	Set         map[string]Value
	Unset       []string
	AddLinks    []Link
	RemoveLinks []Link
	RemoveBlobs []string
}

type storedProp struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

type record struct {
	Props map[string]storedProp `json:"props"`
	Blobs map[string]BlobInfo   `json:"blobs,omitempty"`
}

// Create allocates a new entity of the named type (creating the type on
// first use) and stores its properties and links.
func (s *Store) Create(typeName string, props map[string]Value, links []Link) (*Entity, error) {
	if err := validName("type", typeName); err != nil {
		return nil, err
	}
	var id EntityID
	err := s.update(func(txn *badgerdb.Txn) error {
		typeID, err := ensureType(txn, typeName)
		if err != nil {
			return err
		}
		localID, err := nextSeq(txn, keyLocalSeq(typeID))
		if err != nil {
			return err
		}
		id = EntityID{TypeID: typeID, LocalID: localID}

		rec := &record{Props: map[string]storedProp{}}
		if err := applyProps(rec, props, nil); err != nil {
			return err
		}
		if err := putRecord(txn, id, rec); err != nil {
			return err
		}
		for _, l := range links {
			if err := addLink(txn, id, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// Get loads one entity.
func (s *Store) Get(id EntityID) (*Entity, error) {
	var e *Entity
	err := s.view(func(txn *badgerdb.Txn) error {
		var err error
		e, err = loadEntity(txn, id)
		return err
	})
	return e, err
}

// Update applies changes to an existing entity in one transaction.
func (s *Store) Update(id EntityID, ch Changes) (*Entity, error) {
	err := s.update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := applyProps(rec, ch.Set, ch.Unset); err != nil {
			return err
		}
		for _, name := range ch.RemoveBlobs {
			if _, ok := rec.Blobs[name]; !ok {
				continue
			}
			delete(rec.Blobs, name)
			if err := txn.Delete(keyBlob(id, name)); err != nil {
				return err
			}
		}
		if err := putRecord(txn, id, rec); err != nil {
			return err
		}
		for _, l := range ch.RemoveLinks {
			if err := txn.Delete(keyLink(id, l.Name, l.Target)); err != nil {
				return err
			}
			if err := txn.Delete(keyReverse(l.Target, id, l.Name)); err != nil {
				return err
			}
		}
		for _, l := range ch.AddLinks {
			if err := addLink(txn, id, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// Delete removes an entity with its properties, blobs and outgoing links.
// Links from other entities that point at it are removed as well.
func (s *Store) Delete(id EntityID) error {
	if err := s.view(func(txn *badgerdb.Txn) error {
		_, err := getRecord(txn, id)
		return err
	}); err != nil {
		return err
	}

	// Links are removed in bounded batches first so a heavily linked
	// entity does not overflow a single transaction.
	for _, side := range []struct {
		prefix []byte
		drop   linkDropper
	}{
		{keyReversePrefix(id), dropIncoming},
		{keyLinksPrefix(id), dropOutgoing},
	} {
		for {
			var n int
			err := s.update(func(txn *badgerdb.Txn) error {
				var err error
				n, err = unlink(txn, id, side.prefix, linkBatch, side.drop)
				return err
			})
			if err != nil {
				return err
			}
			if n < linkBatch {
				break
			}
		}
	}

	return s.update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		// Links added while the batches ran.
		if _, err := unlink(txn, id, keyReversePrefix(id), 0, dropIncoming); err != nil {
			return err
		}
		if _, err := unlink(txn, id, keyLinksPrefix(id), 0, dropOutgoing); err != nil {
			return err
		}
		for name := range rec.Blobs {
			if err := txn.Delete(keyBlob(id, name)); err != nil {
				return err
			}
		}
		return txn.Delete(keyEntity(id))
	})
}

// linkBatch bounds the link keys removed per transaction by Delete.
var linkBatch = 1000

// linkDropper removes one link of id, given its forward or reverse key.
type linkDropper func(txn *badgerdb.Txn, id EntityID, key []byte) error

// dropIncoming removes the link behind reverse key k of target id.
func dropIncoming(txn *badgerdb.Txn, id EntityID, k []byte) error {
	src, name, err := splitReverseKey(k, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(keyLink(src, name, id)); err != nil {
		return err
	}
	return txn.Delete(k)
}

// dropOutgoing removes the link behind forward key k of source id.
func dropOutgoing(txn *badgerdb.Txn, id EntityID, k []byte) error {
	name, dst, err := splitLinkKey(k, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(k); err != nil {
		return err
	}
	return txn.Delete(keyReverse(dst, id, name))
}

// unlink drops up to limit links under prefix, or all of them when limit
// is zero, and returns how many it dropped.
func unlink(txn *badgerdb.Txn, id EntityID, prefix []byte, limit int, drop linkDropper) (int, error) {
	keys, err := collectKeysLimit(txn, prefix, limit)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := drop(txn, id, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Blob returns the payload of a named blob.
func (s *Store) Blob(id EntityID, name string) ([]byte, error) {
	var data []byte
	err := s.view(func(txn *badgerdb.Txn) error {
		if _, err := getRecord(txn, id); err != nil {
			return err
		}
		item, err := txn.Get(keyBlob(id, name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: blob %q of %s", apperr.ErrEntityNotFound, name, id)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// PutBlob stores (or replaces) a named blob.
func (s *Store) PutBlob(id EntityID, name string, data []byte) (BlobInfo, error) {
	if err := validName("blob", name); err != nil {
		return BlobInfo{}, err
	}
	info := BlobInfo{Size: int64(len(data)), Checksum: checksum.Sum(data)}
	err := s.update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Blobs == nil {
			rec.Blobs = map[string]BlobInfo{}
		}
		rec.Blobs[name] = info
		if err := txn.Set(keyBlob(id, name), data); err != nil {
			return err
		}
		return putRecord(txn, id, rec)
	})
	return info, err
}

func applyProps(rec *record, set map[string]Value, unset []string) error {
	for _, name := range unset {
		delete(rec.Props, name)
	}
	for name, v := range set {
		if err := validName("property", name); err != nil {
			return err
		}
		raw, err := v.encode()
		if err != nil {
			return fmt.Errorf("%w: property %q: %w", apperr.ErrInvalidField, name, err)
		}
		rec.Props[name] = storedProp{Type: v.Type, Value: raw}
	}
	return nil
}

func addLink(txn *badgerdb.Txn, src EntityID, l Link) error {
	if err := validName("link", l.Name); err != nil {
		return err
	}
	if _, err := txn.Get(keyEntity(l.Target)); err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: link %q target %s does not exist", apperr.ErrInvalidField, l.Name, l.Target)
		}
		return err
	}
	if err := txn.Set(keyLink(src, l.Name, l.Target), nil); err != nil {
		return err
	}
	return txn.Set(keyReverse(l.Target, src, l.Name), nil)
}

func getRecord(txn *badgerdb.Txn, id EntityID) (*record, error) {
	item, err := txn.Get(keyEntity(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec *record
	err = item.Value(func(val []byte) error {
		var decErr error
		rec, decErr = decodeRecord(val)
		return decErr
	})
	return rec, err
}

func decodeRecord(val []byte) (*record, error) {
	rec := &record{}
	if err := json.Unmarshal(val, rec); err != nil {
		return nil, fmt.Errorf("%w: decode entity: %w", apperr.ErrDatabase, err)
	}
	if rec.Props == nil {
		rec.Props = map[string]storedProp{}
	}
	return rec, nil
}

func putRecord(txn *badgerdb.Txn, id EntityID, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode entity: %w", apperr.ErrDatabase, err)
	}
	return txn.Set(keyEntity(id), data)
}

func loadEntity(txn *badgerdb.Txn, id EntityID) (*Entity, error) {
	rec, err := getRecord(txn, id)
	if err != nil {
		return nil, err
	}
	return buildEntity(txn, id, rec)
}

func buildEntity(txn *badgerdb.Txn, id EntityID, rec *record) (*Entity, error) {
	typeName, err := typeNameOf(txn, id.TypeID)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		ID:         id,
		Type:       typeName,
		Properties: make(map[string]Value, len(rec.Props)),
		Links:      map[string][]EntityID{},
		Blobs:      map[string]BlobInfo{},
	}
	for name, p := range rec.Props {
		v, err := decodeValue(p.Type, p.Value)
		if err != nil {
			return nil, err
		}
		e.Properties[name] = v
	}
	for name, b := range rec.Blobs {
		e.Blobs[name] = b
	}

	keys, err := collectKeys(txn, keyLinksPrefix(id))
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		name, dst, err := splitLinkKey(k, id)
		if err != nil {
			return nil, err
		}
		e.Links[name] = append(e.Links[name], dst)
	}
	return e, nil
}

// collectKeys returns copies of every key with the given prefix.
func collectKeys(txn *badgerdb.Txn, prefix []byte) ([][]byte, error) {
	return collectKeysLimit(txn, prefix, 0)
}

// collectKeysLimit is collectKeys stopping after limit keys; zero means no
// limit.
func collectKeysLimit(txn *badgerdb.Txn, prefix []byte, limit int) ([][]byte, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func ensureType(txn *badgerdb.Txn, name string) (int, error) {
	item, err := txn.Get(keyType(name))
	if err == nil {
		var id int
		err = item.Value(func(val []byte) error {
			var convErr error
			id, convErr = strconv.Atoi(string(val))
			return convErr
		})
		return id, err
	}
	if !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, err
	}
	next, err := nextSeq(txn, []byte(keyTypeSeq))
	if err != nil {
		return 0, err
	}
	id := int(next)
	if err := txn.Set(keyType(name), []byte(strconv.Itoa(id))); err != nil {
		return 0, err
	}
	if err := txn.Set(keyTypeName(id), []byte(name)); err != nil {
		return 0, err
	}
	return id, nil
}

// nextSeq increments the counter stored at key and returns the new value.
// Counters start at 0.
func nextSeq(txn *badgerdb.Txn, key []byte) (int64, error) {
	next := int64(0)
	item, err := txn.Get(key)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			n, convErr := strconv.ParseInt(string(val), 10, 64)
			next = n + 1
			return convErr
		}); err != nil {
			return 0, err
		}
	case !errors.Is(err, badgerdb.ErrKeyNotFound):
		return 0, err
	}
	if err := txn.Set(key, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

func typeNameOf(txn *badgerdb.Txn, typeID int) (string, error) {
	item, err := txn.Get(keyTypeName(typeID))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: entity type %d", apperr.ErrEntityNotFound, typeID)
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}
