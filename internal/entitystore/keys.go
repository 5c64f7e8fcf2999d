package entitystore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/entbrowser/internal/apperr"
)

const (
	prefixType     = "t:"
	prefixTypeName = "tn:"
	prefixEntity   = "e:"
	prefixLink     = "l:"
	prefixReverse  = "r:"
	prefixBlob     = "b:"
	keyTypeSeq     = "seq:type"
	prefixLocalSeq = "seq:e:"

	linkSep = "\x00"
)

// EntityID identifies one entity: the type it belongs to and its local id
// within that type.
type EntityID struct {
	TypeID  int
	LocalID int64
}

// String returns the "<typeId>-<localId>" form used by the API.
func (id EntityID) String() string {
	return fmt.Sprintf("%d-%d", id.TypeID, id.LocalID)
}

// ParseID parses the "<typeId>-<localId>" form.
func ParseID(s string) (EntityID, error) {
	typePart, localPart, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return EntityID{}, fmt.Errorf("%w: malformed entity id %q", apperr.ErrInvalidField, s)
	}
	typeID, err := strconv.Atoi(typePart)
	if err != nil || typeID < 0 {
		return EntityID{}, fmt.Errorf("%w: malformed entity id %q", apperr.ErrInvalidField, s)
	}
	localID, err := strconv.ParseInt(localPart, 10, 64)
	if err != nil || localID < 0 {
		return EntityID{}, fmt.Errorf("%w: malformed entity id %q", apperr.ErrInvalidField, s)
	}
	return EntityID{TypeID: typeID, LocalID: localID}, nil
}

func idKey(id EntityID) string {
	return fmt.Sprintf("%08d:%020d", id.TypeID, id.LocalID)
}

func parseIDKey(s string) (EntityID, error) {
	typePart, localPart, ok := strings.Cut(s, ":")
	if !ok {
		return EntityID{}, fmt.Errorf("%w: corrupt key %q", apperr.ErrDatabase, s)
	}
	typeID, err := strconv.Atoi(typePart)
	if err != nil {
		return EntityID{}, fmt.Errorf("%w: corrupt key %q", apperr.ErrDatabase, s)
	}
	localID, err := strconv.ParseInt(localPart, 10, 64)
	if err != nil {
		return EntityID{}, fmt.Errorf("%w: corrupt key %q", apperr.ErrDatabase, s)
	}
	return EntityID{TypeID: typeID, LocalID: localID}, nil
}

func keyType(name string) []byte {
	return []byte(prefixType + name)
}

func keyTypeName(typeID int) []byte {
	return []byte(fmt.Sprintf("%s%08d", prefixTypeName, typeID))
}

func keyLocalSeq(typeID int) []byte {
	return []byte(fmt.Sprintf("%s%08d", prefixLocalSeq, typeID))
}

func keyEntity(id EntityID) []byte {
	return []byte(prefixEntity + idKey(id))
}

func keyEntityPrefix(typeID int) []byte {
	return []byte(fmt.Sprintf("%s%08d:", prefixEntity, typeID))
}

// keyLink: "l:<src>:<name>\x00<dst>"
func keyLink(src EntityID, name string, dst EntityID) []byte {
	return []byte(prefixLink + idKey(src) + ":" + name + linkSep + idKey(dst))
}

func keyLinksPrefix(src EntityID) []byte {
	return []byte(prefixLink + idKey(src) + ":")
}

func keyLinkNamePrefix(src EntityID, name string) []byte {
	return []byte(prefixLink + idKey(src) + ":" + name + linkSep)
}

// keyReverse: "r:<dst>:<src>:<name>"
func keyReverse(dst, src EntityID, name string) []byte {
	return []byte(prefixReverse + idKey(dst) + ":" + idKey(src) + ":" + name)
}

func keyReversePrefix(dst EntityID) []byte {
	return []byte(prefixReverse + idKey(dst) + ":")
}

func keyBlob(id EntityID, name string) []byte {
	return []byte(prefixBlob + idKey(id) + ":" + name)
}

// splitLinkKey returns the name and target of an outgoing link key that
// starts with keyLinksPrefix(src).
func splitLinkKey(key []byte, src EntityID) (string, EntityID, error) {
	rest := strings.TrimPrefix(string(key), string(keyLinksPrefix(src)))
	name, dst, ok := strings.Cut(rest, linkSep)
	if !ok {
		return "", EntityID{}, fmt.Errorf("%w: corrupt link key %q", apperr.ErrDatabase, key)
	}
	id, err := parseIDKey(dst)
	return name, id, err
}

// splitReverseKey returns the source and link name of a reverse key that
// starts with keyReversePrefix(dst).
func splitReverseKey(key []byte, dst EntityID) (EntityID, string, error) {
	rest := strings.TrimPrefix(string(key), string(keyReversePrefix(dst)))
	// rest = <typeId 8>:<localId 20>:<name>
	const idLen = 8 + 1 + 20
	if len(rest) < idLen+1 {
		return EntityID{}, "", fmt.Errorf("%w: corrupt reverse key %q", apperr.ErrDatabase, key)
	}
	src, err := parseIDKey(rest[:idLen])
	if err != nil {
		return EntityID{}, "", err
	}
	return src, rest[idLen+1:], nil
}

func validName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name is required", apperr.ErrInvalidField, kind)
	}
	if strings.ContainsAny(name, linkSep+"\n") {
		return fmt.Errorf("%w: %s name %q contains forbidden characters", apperr.ErrInvalidField, kind, name)
	}
	return nil
}
