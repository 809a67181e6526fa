// Package entity implements the per-entity contract described in spec.md
// §4.B: a registration records a type's logical name and which field is the
// stable event-key, then derives the four CRUD shape validators (Create,
// Update, Delete, Read) from that one registration.
//
// This replaces the source's class-mutating decoration (spec.md §9): there
// is no monkey-patching of the registered Go struct. Register walks T's
// fields once via reflection and returns an independent *Descriptor that
// callers pass around explicitly — the registry mapping lives in the
// Descriptor, not on T itself.
package entity

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// ShapeKind selects which of the four derived validators to apply.
type ShapeKind int

const (
	ShapeCreate ShapeKind = iota
	ShapeUpdate
	ShapeDelete
	ShapeRead
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeCreate:
		return "create"
	case ShapeUpdate:
		return "update"
	case ShapeDelete:
		return "delete"
	case ShapeRead:
		return "read"
	default:
		return "unknown"
	}
}

type fieldMeta struct {
	goName   string
	jsonName string
	typ      reflect.Type
	eventKey bool
}

// Descriptor is the per-entity contract: logical name, ordered field set,
// and the single event-key field, resolved once at registration.
type Descriptor[T any] struct {
	LogicalName   string
	EventKeyField string // JSON name of the event-key field
	fields        []fieldMeta
}

var (
	snakeCaseRe1 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// SnakeCase derives an entity's default logical name from its Go type name:
// insert "_" before each uppercase letter that follows a lowercase letter
// or digit, then lowercase the whole string. "UserAccount" -> "user_account".
func SnakeCase(typeName string) string {
	s := snakeCaseRe1.ReplaceAllString(typeName, "${1}_${2}")
	return strings.ToLower(s)
}

// Register walks T's exported fields, finds the one field tagged
// `event:"key"`, and builds a Descriptor. overrideName, if non-empty, is
// used as LogicalName instead of the derived snake_case name. Registration
// fails if T does not have exactly one event-key field.
func Register[T any](overrideName string) (*Descriptor[T], error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		typ = reflect.TypeOf((*T)(nil)).Elem()
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity.Register: %s is not a struct", typ)
	}

	d := &Descriptor[T]{}
	if overrideName != "" {
		d.LogicalName = overrideName
	} else {
		d.LogicalName = SnakeCase(typ.Name())
	}

	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		jsonName := jsonFieldName(f)
		if jsonName == "-" {
			continue
		}
		isKey := hasEventKeyTag(f)
		d.fields = append(d.fields, fieldMeta{
			goName:   f.Name,
			jsonName: jsonName,
			typ:      f.Type,
			eventKey: isKey,
		})
		if isKey {
			if d.EventKeyField != "" {
				return nil, fmt.Errorf("entity.Register: %s has more than one event-key field (%q and %q)", typ, d.EventKeyField, jsonName)
			}
			d.EventKeyField = jsonName
		}
	}

	if d.EventKeyField == "" {
		return nil, fmt.Errorf("entity.Register: %s has no field tagged `event:\"key\"`", typ)
	}

	return d, nil
}

// MustRegister panics instead of returning an error. Intended for package
// init-time registration where a malformed entity is a programming error.
func MustRegister[T any](overrideName string) *Descriptor[T] {
	d, err := Register[T](overrideName)
	if err != nil {
		panic(err)
	}
	return d
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "" {
		return f.Name
	}
	return parts[0]
}

func hasEventKeyTag(f reflect.StructField) bool {
	tag := f.Tag.Get("event")
	for _, part := range strings.Split(tag, ",") {
		if strings.TrimSpace(part) == "key" {
			return true
		}
	}
	return false
}

// Validate checks raw (a JSON-decoded payload, as produced by the codec's
// Decode) against the shape named by kind, per spec.md §3:
//
//   - Create: all non-key fields required (present, non-null); key optional.
//   - Update / Delete: key required; all other fields optional — absent or
//     null means "no change".
//   - Read: every field required (a full record).
//
// Present values are additionally checked for type-compatibility with the
// Go field's declared type via a JSON round trip.
func (d *Descriptor[T]) Validate(kind ShapeKind, raw map[string]any) error {
	for _, f := range d.fields {
		val, present := raw[f.jsonName]
		isNull := present && val == nil

		required := false
		switch kind {
		case ShapeCreate:
			required = !f.eventKey
		case ShapeUpdate, ShapeDelete:
			required = f.eventKey
		case ShapeRead:
			required = true
		}

		if required && (!present || isNull) {
			return fmt.Errorf("entity %s: shape %s: missing required field %q", d.LogicalName, kind, f.jsonName)
		}

		if present && !isNull {
			if err := checkType(val, f.typ); err != nil {
				return fmt.Errorf("entity %s: shape %s: field %q: %w", d.LogicalName, kind, f.jsonName, err)
			}
		}
	}
	return nil
}

func checkType(val any, typ reflect.Type) error {
	encoded, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("cannot encode value: %w", err)
	}
	target := reflect.New(typ).Interface()
	if err := json.Unmarshal(encoded, target); err != nil {
		return fmt.Errorf("does not match type %s: %w", typ, err)
	}
	return nil
}

// ShapeValidator binds a Descriptor to one fixed ShapeKind, giving it the
// single-argument ValidateRaw(raw) shape that consume.Consumer expects as
// its Validator.
type ShapeValidator[T any] struct {
	d    *Descriptor[T]
	kind ShapeKind
}

// Shape returns a ShapeValidator bound to kind, for passing to a consumer
// as its per-queue Validator.
func (d *Descriptor[T]) Shape(kind ShapeKind) *ShapeValidator[T] {
	return &ShapeValidator[T]{d: d, kind: kind}
}

func (s *ShapeValidator[T]) ValidateRaw(raw map[string]any) error {
	return s.d.Validate(s.kind, raw)
}

// registry is a process-wide cache so repeated RegisterOnce calls for the
// same combination of type and override name are idempotent (Register
// itself builds a new Descriptor on every call), matching spec.md's
// "idempotent topology"-style expectation for registration.
var (
	registryMu sync.Mutex
	registry   = map[string]any{}
)

// RegisterOnce is Register, memoized by (Go type name, overrideName). Safe
// to call from multiple goroutines/packages that all want the same
// Descriptor for T without coordinating a single init() site.
func RegisterOnce[T any](overrideName string) (*Descriptor[T], error) {
	var zero T
	key := fmt.Sprintf("%T/%s", zero, overrideName)

	registryMu.Lock()
	defer registryMu.Unlock()

	if cached, ok := registry[key]; ok {
		d, ok := cached.(*Descriptor[T])
		if !ok {
			return nil, fmt.Errorf("entity.RegisterOnce: cached descriptor for %q has unexpected type", key)
		}
		return d, nil
	}

	d, err := Register[T](overrideName)
	if err != nil {
		return nil, err
	}
	registry[key] = d
	return d, nil
}
