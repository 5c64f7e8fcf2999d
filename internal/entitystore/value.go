package entitystore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/models"
)

// Value is a typed property value. Data holds a string, bool, int64, float64
// or time.Time depending on Type.
type Value struct {
	Type string
	Data any
}

// StringValue builds a string property value.
func StringValue(s string) Value { return Value{Type: models.TypeString, Data: s} }

// IntValue builds an integer property value.
func IntValue(n int64) Value { return Value{Type: models.TypeInteger, Data: n} }

// ParseValue converts an API-supplied value (as decoded from JSON, or as a
// string) into a typed Value.
func ParseValue(typ string, in any) (Value, error) {
	invalid := func(reason string) (Value, error) {
		return Value{}, fmt.Errorf("%w: %v is not a valid %s: %s", apperr.ErrInvalidField, in, typ, reason)
	}
	if in == nil {
		return invalid("value is required")
	}
	switch typ {
	case models.TypeString:
		switch v := in.(type) {
		case string:
			return Value{Type: typ, Data: v}, nil
		case float64, bool, json.Number:
			return Value{Type: typ, Data: fmt.Sprint(v)}, nil
		}
	case models.TypeBoolean:
		switch v := in.(type) {
		case bool:
			return Value{Type: typ, Data: v}, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return invalid("expected true or false")
			}
			return Value{Type: typ, Data: b}, nil
		}
	case models.TypeInteger:
		switch v := in.(type) {
		case int64:
			return Value{Type: typ, Data: v}, nil
		case int:
			return Value{Type: typ, Data: int64(v)}, nil
		case float64:
			if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
				return invalid("not an integer")
			}
			return Value{Type: typ, Data: int64(v)}, nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return invalid("not an integer")
			}
			return Value{Type: typ, Data: n}, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return invalid("not an integer")
			}
			return Value{Type: typ, Data: n}, nil
		}
	case models.TypeDouble:
		var f float64
		switch v := in.(type) {
		case float64:
			f = v
		case int64:
			f = float64(v)
		case int:
			f = float64(v)
		case json.Number:
			n, err := v.Float64()
			if err != nil {
				return invalid("not a number")
			}
			f = n
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return invalid("not a number")
			}
			f = n
		default:
			return invalid("unsupported input")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return invalid("not a finite number")
		}
		return Value{Type: typ, Data: f}, nil
	case models.TypeDatetime:
		switch v := in.(type) {
		case time.Time:
			return Value{Type: typ, Data: v.UTC()}, nil
		case float64:
			return Value{Type: typ, Data: time.UnixMilli(int64(v)).UTC()}, nil
		case int64:
			return Value{Type: typ, Data: time.UnixMilli(v).UTC()}, nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
			if err != nil {
				return invalid("expected RFC 3339 timestamp")
			}
			return Value{Type: typ, Data: ts.UTC()}, nil
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown property type %q", apperr.ErrInvalidField, typ)
	}
	return invalid("unsupported input")
}

// Display returns the JSON-friendly form of the value.
func (v Value) Display() any {
	if t, ok := v.Data.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v.Data
}

// Text returns the value rendered as text, used for substring matching.
func (v Value) Text() string {
	switch d := v.Data.(type) {
	case string:
		return d
	case time.Time:
		return d.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(d, 'g', -1, 64)
	default:
		return fmt.Sprint(d)
	}
}

// Compare orders v against other, which must have the same type.
// It returns -1, 0 or 1.
func (v Value) Compare(other Value) int {
	switch a := v.Data.(type) {
	case string:
		return strings.Compare(a, other.Data.(string))
	case bool:
		b := other.Data.(bool)
		switch {
		case a == b:
			return 0
		case !a:
			return -1
		}
		return 1
	case int64:
		return cmpOrdered(a, other.Data.(int64))
	case float64:
		return cmpOrdered(a, other.Data.(float64))
	case time.Time:
		return a.Compare(other.Data.(time.Time))
	}
	return 0
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// encode returns the stored JSON form: datetimes become unix millis.
func (v Value) encode() (json.RawMessage, error) {
	data := v.Data
	if t, ok := data.(time.Time); ok {
		data = t.UnixMilli()
	}
	return json.Marshal(data)
}

func decodeValue(typ string, raw json.RawMessage) (Value, error) {
	var err error
	var out Value
	switch typ {
	case models.TypeString:
		var s string
		err = json.Unmarshal(raw, &s)
		out = Value{Type: typ, Data: s}
	case models.TypeBoolean:
		var b bool
		err = json.Unmarshal(raw, &b)
		out = Value{Type: typ, Data: b}
	case models.TypeInteger:
		var n int64
		err = json.Unmarshal(raw, &n)
		out = Value{Type: typ, Data: n}
	case models.TypeDouble:
		var f float64
		err = json.Unmarshal(raw, &f)
		out = Value{Type: typ, Data: f}
	case models.TypeDatetime:
		var ms int64
		err = json.Unmarshal(raw, &ms)
		out = Value{Type: typ, Data: time.UnixMilli(ms).UTC()}
	default:
		return Value{}, fmt.Errorf("%w: unknown stored property type %q", apperr.ErrDatabase, typ)
	}
	if err != nil {
		return Value{}, fmt.Errorf("%w: decode %s value: %w", apperr.ErrDatabase, typ, err)
	}
	return out, nil
}
