package repokit

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
)

// =====================================
// Id Generation
// =====================================

// IDGenerator is the pluggable id/newness strategy consumed by repositories.
// IsNew reports whether an id is the "new" sentinel for its type; Next
// produces a fresh id. Implementations must be safe for concurrent use.
type IDGenerator interface {
	IsNew(id interface{}) (bool, error)
	Next() (interface{}, error)
}

// IntIDGenerator issues integer ids from a strictly monotonic counter, so
// ids are never reused even after deletes shrink the collection.
type IntIDGenerator struct {
	counter atomic.Int64
}

// NewIntIDGenerator creates a generator whose first id is seed+1
func NewIntIDGenerator(seed int64) *IntIDGenerator {
	g := &IntIDGenerator{}
	g.counter.Store(seed)
	return g
}

// Seed raises the counter to at least value. Used when a repository adopts
// pre-existing entities with caller-assigned ids.
func (g *IntIDGenerator) Seed(value int64) {
	for {
		current := g.counter.Load()
		if current >= value || g.counter.CompareAndSwap(current, value) {
			return
		}
	}
}

// IsNew reports whether id is the zero value of an integer type
func (g *IntIDGenerator) IsNew(id interface{}) (bool, error) {
	n, ok := coerceInt(id)
	if !ok {
		return false, NewError(ErrorTypeInvalidID,
			fmt.Sprintf("integer id generator cannot handle id of type %T", id))
	}
	return n == 0, nil
}

// Next returns the next id in sequence
func (g *IntIDGenerator) Next() (interface{}, error) {
	return g.counter.Add(1), nil
}

func coerceInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// StringIDGenerator issues sortable unique string tokens (UUIDv7, which
// embeds a millisecond timestamp so lexical order tracks insert order).
type StringIDGenerator struct{}

// NewStringIDGenerator creates a string id generator
func NewStringIDGenerator() StringIDGenerator { return StringIDGenerator{} }

// IsNew reports whether id is an empty string
func (StringIDGenerator) IsNew(id interface{}) (bool, error) {
	s, ok := id.(string)
	if !ok {
		return false, NewError(ErrorTypeInvalidID,
			fmt.Sprintf("string id generator cannot handle id of type %T", id))
	}
	return s == "", nil
}

// Next returns a new sortable token
func (StringIDGenerator) Next() (interface{}, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeInternal, "failed to generate id", err)
	}
	return id.String(), nil
}

// UUIDIDGenerator issues sequential UUIDs (v7) — monotonic enough for
// index-friendly insert order, not cryptographically random.
type UUIDIDGenerator struct{}

// NewUUIDIDGenerator creates a UUID id generator
func NewUUIDIDGenerator() UUIDIDGenerator { return UUIDIDGenerator{} }

// IsNew reports whether id is the all-zero UUID
func (UUIDIDGenerator) IsNew(id interface{}) (bool, error) {
	switch v := id.(type) {
	case uuid.UUID:
		return v == uuid.Nil, nil
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return false, NewError(ErrorTypeInvalidID,
				fmt.Sprintf("id %q is not a valid UUID", v))
		}
		return parsed == uuid.Nil, nil
	default:
		return false, NewError(ErrorTypeInvalidID,
			fmt.Sprintf("uuid id generator cannot handle id of type %T", id))
	}
}

// Next returns a new sequential UUID
func (UUIDIDGenerator) Next() (interface{}, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeInternal, "failed to generate id", err)
	}
	return id, nil
}

var uuidType = reflect.TypeOf(uuid.UUID{})

// DefaultIDGenerator picks the generator matching the id field's type:
// a monotonic counter for integers, UUIDv7 tokens for strings, sequential
// UUIDs for uuid.UUID. Unsupported id types fail fast with
// ErrorTypeInvalidID rather than being silently treated as non-new.
func DefaultIDGenerator(idType reflect.Type) (IDGenerator, error) {
	switch {
	case idType == uuidType:
		return NewUUIDIDGenerator(), nil
	case idType.Kind() == reflect.String:
		return NewStringIDGenerator(), nil
	case isIntKind(idType.Kind()):
		return NewIntIDGenerator(0), nil
	default:
		return nil, NewError(ErrorTypeInvalidID,
			fmt.Sprintf("no id generation strategy for id type %v", idType))
	}
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}
