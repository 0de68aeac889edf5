// Package sanitize turns arbitrary widget metadata into a JSON-safe, acyclic map
// with sensitive keys removed at every depth.
package sanitize

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinytrack/pkg/event"
)

// ErrUnserializable is returned when metadata could not be walked.
// Callers treat it as "no metadata" and drop the event.
var ErrUnserializable = errors.New("metadata cannot be converted to a transportable form")

var sensitiveKeys = map[string]struct{}{
	"value":         {},
	"password":      {},
	"pass":          {},
	"pwd":           {},
	"token":         {},
	"secret":        {},
	"authorization": {},
	"cookie":        {},
}

// IsSensitiveKey reports whether a metadata key must never leave the client.
func IsSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	if _, ok := sensitiveKeys[lowered]; ok {
		return true
	}
	return strings.Contains(lowered, "password") || strings.Contains(lowered, "token")
}

// Sanitize converts raw into a JSON-safe map and injects the __tracking object.
// The result always carries __tracking, even when raw is nil.
func Sanitize(raw map[string]any, ctx event.Context) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrUnserializable, r)
		}
	}()

	w := &walker{visiting: make(map[identity]struct{})}
	merged := make(map[string]any, len(raw)+1)

	if raw != nil {
		root := reflect.ValueOf(raw)
		w.enter(root)
		for k, v := range raw {
			if IsSensitiveKey(k) {
				continue
			}
			if converted, ok := w.value(reflect.ValueOf(v)); ok {
				merged[k] = converted
			}
		}
	}

	tracking := map[string]any{"sessionId": ctx.SessionID}
	if ctx.AppID != "" {
		tracking["appId"] = ctx.AppID
	}
	merged[event.TrackingKey] = tracking

	return merged, nil
}

// identity is a reference's address plus enough shape to tell two views of it apart.
type identity struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

// walker tracks references on the current recursion path.
type walker struct {
	visiting map[identity]struct{}
}

func (w *walker) enter(v reflect.Value) (identity, bool) {
	id := identity{ptr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		id.n = v.Len()
	}
	if _, seen := w.visiting[id]; seen {
		return id, false
	}
	w.visiting[id] = struct{}{}
	return id, true
}

func (w *walker) leave(id identity) {
	delete(w.visiting, id)
}

var (
	textMarshalerType  = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	errorInterfaceType = reflect.TypeOf((*error)(nil)).Elem()
)

// value returns the JSON-safe form of v. The bool is false when v has no
// representation and must be omitted.
func (w *walker) value(v reflect.Value) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
	}

	if v.CanInterface() {
		if out, ok, handled := w.special(v); handled {
			return out, ok
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), true
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, true
		}
		return f, true
	case reflect.String:
		return v.String(), true
	case reflect.Interface:
		return w.value(v.Elem())
	case reflect.Pointer:
		id, ok := w.enter(v)
		if !ok {
			return nil, false
		}
		defer w.leave(id)
		return w.value(v.Elem())
	case reflect.Map:
		return w.mapValue(v)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes()), true
		}
		id, ok := w.enter(v)
		if !ok {
			return nil, false
		}
		defer w.leave(id)
		return w.list(v), true
	case reflect.Array:
		return w.list(v), true
	case reflect.Struct:
		out := make(map[string]any)
		w.structFields(v, out)
		return out, true
	default:
		// func, chan, complex, unsafe pointer
		return nil, false
	}
}

// special handles types whose JSON form is not their structural form.
func (w *walker) special(v reflect.Value) (any, bool, bool) {
	switch x := v.Interface().(type) {
	case time.Time:
		return event.FormatTimestamp(x), true, true
	case *time.Time:
		return event.FormatTimestamp(*x), true, true
	case *big.Int:
		return x.String(), true, true
	case *big.Float:
		return x.Text('g', -1), true, true
	case *big.Rat:
		return x.RatString(), true, true
	case json.Number:
		return x.String(), true, true
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err != nil {
			return nil, false, true
		}
		out, ok := w.value(reflect.ValueOf(decoded))
		return out, ok, true
	}

	t := v.Type()
	if t.Implements(errorInterfaceType) {
		return v.Interface().(error).Error(), true, true
	}
	if t.Implements(textMarshalerType) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, false, true
		}
		return string(text), true, true
	}
	return nil, false, false
}

func (w *walker) mapValue(v reflect.Value) (any, bool) {
	keyKind := v.Type().Key().Kind()
	switch keyKind {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return nil, false
	}

	id, ok := w.enter(v)
	if !ok {
		return nil, false
	}
	defer w.leave(id)

	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := mapKey(iter.Key())
		if IsSensitiveKey(k) {
			continue
		}
		if converted, ok := w.value(iter.Value()); ok {
			out[k] = converted
		}
	}
	return out, true
}

func mapKey(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	default:
		return strconv.FormatInt(k.Int(), 10)
	}
}

// list maps elements, dropping the ones with no representation.
func (w *walker) list(v reflect.Value) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		if converted, ok := w.value(v.Index(i)); ok {
			out = append(out, converted)
		}
	}
	return out
}

// structFields copies exported fields using their json names.
// Embedded structs are flattened like encoding/json does.
func (w *walker) structFields(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("json") == "" {
			w.structFields(fv, out)
			continue
		}
		if !field.IsExported() {
			continue
		}

		name, omitEmpty, skip := jsonName(field)
		if skip || IsSensitiveKey(name) {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		if converted, ok := w.value(fv); ok {
			out[name] = converted
		}
	}
}

func jsonName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
