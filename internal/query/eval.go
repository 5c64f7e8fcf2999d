package query

import (
	"slices"
	"strings"
	"time"

	"github.com/starford/entbrowser/internal/entitystore"
	"github.com/starford/entbrowser/internal/models"
)

type node interface {
	match(e *entitystore.Entity) bool
}

type orNode []node

func (n orNode) match(e *entitystore.Entity) bool {
	for _, c := range n {
		if c.match(e) {
			return true
		}
	}
	return false
}

type andNode []node

func (n andNode) match(e *entitystore.Entity) bool {
	for _, c := range n {
		if !c.match(e) {
			return false
		}
	}
	return true
}

// cmpNode compares a property with a literal parsed as the property's type.
// A missing property, or a literal that does not parse as its type, only
// satisfies "!=".
type cmpNode struct {
	name string
	op   string
	raw  string
}

func (n cmpNode) match(e *entitystore.Entity) bool {
	v, ok := e.Properties[n.name]
	if !ok {
		return n.op == "!="
	}
	if n.op == "~" {
		return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(n.raw))
	}
	operand, ok := operand(v.Type, n.raw)
	if !ok {
		return n.op == "!="
	}
	c := v.Compare(operand)
	switch n.op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

type rangeNode struct {
	name   string
	lo, hi string
}

func (n rangeNode) match(e *entitystore.Entity) bool {
	v, ok := e.Properties[n.name]
	if !ok {
		return false
	}
	lo, okLo := operand(v.Type, n.lo)
	hi, okHi := operand(v.Type, n.hi)
	if !okLo || !okHi {
		return false
	}
	return v.Compare(lo) >= 0 && v.Compare(hi) <= 0
}

type linkNode struct {
	name   string
	target entitystore.EntityID
}

func (n linkNode) match(e *entitystore.Entity) bool {
	return slices.Contains(e.Links[n.name], n.target)
}

// wordNode holds a lower-cased word.
type wordNode string

func (n wordNode) match(e *entitystore.Entity) bool {
	for _, v := range e.Properties {
		if v.Type != models.TypeString {
			continue
		}
		if strings.Contains(strings.ToLower(v.Data.(string)), string(n)) {
			return true
		}
	}
	return false
}

// operand parses raw as a value of typ. Datetimes also accept a bare date.
func operand(typ, raw string) (entitystore.Value, bool) {
	v, err := entitystore.ParseValue(typ, raw)
	if err == nil {
		return v, true
	}
	if typ == models.TypeDatetime {
		if d, err := time.Parse(time.DateOnly, raw); err == nil {
			return entitystore.Value{Type: typ, Data: d.UTC()}, true
		}
	}
	return entitystore.Value{}, false
}
