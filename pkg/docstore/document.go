package docstore

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Table names a document collection inside a Store.
type Table string

const (
	TableChannels Table = "channels"
	TableMessages Table = "reacted_messages"
	TableMembers  Table = "members"
	TableEmoji    Table = "emoji"
)

// Tables lists every table known to the cache, in a stable order.
var Tables = []Table{TableChannels, TableMessages, TableMembers, TableEmoji}

// KeyField is the document field used as the natural key of every table.
const KeyField = "id"

// Document is a JSON-shaped record. After normalization its values are limited to
// nil, string, bool, int64, float64, []any and map[string]any.
type Document map[string]any

// Normalize returns a deep copy of d with every value converted to its canonical form.
func Normalize(d Document) (Document, error) {
	out := make(Document, len(d))
	for k, v := range d {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", k)
		}
		out[k] = nv
	}
	return out, nil
}

// Clone deep-copies an already normalized document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out, err := Normalize(d)
	if err != nil {
		// normalized documents always re-normalize
		panic(err)
	}
	return out
}

// Key returns the string form of the document's natural key, if it has one.
func (d Document) Key() (string, bool) {
	v, ok := d[KeyField]
	if !ok || v == nil {
		return "", false
	}
	return keyString(v), true
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case bool:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return uintToInt64(uint64(x))
	case uint64:
		return uintToInt64(x)
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid number %q", x.String())
		}
		return f, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC().Format(time.RFC3339Nano), nil
	case Document:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ne, err := normalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ne, err := normalizeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = ne
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	}
	return nil, errors.Errorf("unsupported value type %T", v)
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, e := range m {
		ne, err := normalizeValue(e)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", k)
		}
		out[k] = ne
	}
	return out, nil
}

func uintToInt64(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, errors.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

// valuesEqual compares two normalized values. Integers and floats compare numerically.
func valuesEqual(a, b any) bool {
	if af, aok := numeric(a); aok {
		bf, bok := numeric(b)
		if !bok {
			return false
		}
		ai, aint := a.(int64)
		bi, bint := b.(int64)
		if aint && bint {
			return ai == bi
		}
		return af == bf
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valuesEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// keyString renders a normalized key value so that equal keys share one index entry.
func keyString(v any) string {
	switch x := v.(type) {
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < math.MaxInt64 {
			return "i:" + strconv.FormatInt(int64(x), 10)
		}
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	}
	b, _ := encodeJSON(v)
	return "j:" + string(b)
}

// encodeJSON marshals without HTML escaping so custom emoji markup stays readable.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeDocument(raw string) (Document, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return Normalize(m)
}

// mergeInto applies the top-level fields of patch onto a copy of base.
func mergeInto(base, patch Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
