package repokit

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// =====================================
// Entity Metadata
// =====================================

// EntityInfo contains metadata about an entity type, built once per type via
// reflection and cached process-wide.
type EntityInfo struct {
	Name    string
	Type    reflect.Type
	Fields  []FieldInfo
	IDField *FieldInfo
	// VersionField is set when the entity carries a concurrency token,
	// either through the ConcurrencyAware interface or a string field
	// named Version.
	VersionField *FieldInfo
}

// FieldInfo contains metadata about a single struct field
type FieldInfo struct {
	Name  string
	Type  reflect.Type
	Index []int
	Tag   string
}

// FieldNamed returns the field whose name matches (case-insensitively)
func (info *EntityInfo) FieldNamed(name string) (*FieldInfo, bool) {
	for i := range info.Fields {
		if strings.EqualFold(info.Fields[i].Name, name) {
			return &info.Fields[i], true
		}
	}
	return nil, false
}

var entityInfoCache sync.Map // reflect.Type -> *EntityInfo

// GetEntityInfo returns the metadata for entity type T.
// The id field is the exported field named "ID" or "Id".
func GetEntityInfo[T any]() (*EntityInfo, error) {
	var zero T
	return entityInfoForType(reflect.TypeOf(zero))
}

func entityInfoForType(t reflect.Type) (*EntityInfo, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, NewError(ErrorTypeValidation,
			fmt.Sprintf("entity type must be a struct, got %v", t))
	}
	if cached, ok := entityInfoCache.Load(t); ok {
		return cached.(*EntityInfo), nil
	}

	info := &EntityInfo{
		Name: t.Name(),
		Type: t,
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		field := FieldInfo{
			Name:  sf.Name,
			Type:  sf.Type,
			Index: sf.Index,
			Tag:   string(sf.Tag),
		}
		info.Fields = append(info.Fields, field)
	}
	for i := range info.Fields {
		switch info.Fields[i].Name {
		case "ID", "Id":
			if info.IDField == nil {
				info.IDField = &info.Fields[i]
			}
		case "Version":
			info.VersionField = &info.Fields[i]
		}
	}

	actual, _ := entityInfoCache.LoadOrStore(t, info)
	return actual.(*EntityInfo), nil
}

// =====================================
// Field Accessors
// =====================================

// FieldAccessor is a compiled getter for a dotted field path into an entity
// type. Accessors are built once per (type, path) pair and cached, so filter
// evaluation never resolves paths per record.
type FieldAccessor struct {
	path  string
	typ   reflect.Type
	index [][]int
	// leaf is the type of the final path segment after pointer deref
	leaf reflect.Type
}

// Path returns the dotted path the accessor was compiled from
func (a *FieldAccessor) Path() string { return a.path }

// LeafType returns the type of the addressed field
func (a *FieldAccessor) LeafType() reflect.Type { return a.leaf }

// Get resolves the path against an entity value. The second return is false
// when a nil pointer is encountered mid-path; the spec treats such fields as
// non-matching for every operator except IsNull.
func (a *FieldAccessor) Get(entity reflect.Value) (interface{}, bool) {
	v := entity
	for _, idx := range a.index {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(idx)
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	return v.Interface(), true
}

type accessorCacheKey struct {
	typ  reflect.Type
	path string
}

var accessorCache sync.Map // accessorCacheKey -> *FieldAccessor

// CompileAccessor builds (or retrieves from cache) the accessor for a dotted
// path against the given entity type. A path segment that does not resolve
// against the type's shape fails with ErrorTypeInvalidFilter naming the
// offending segment, before any record is scanned.
func CompileAccessor(t reflect.Type, path string) (*FieldAccessor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	key := accessorCacheKey{typ: t, path: strings.ToLower(path)}
	if cached, ok := accessorCache.Load(key); ok {
		return cached.(*FieldAccessor), nil
	}

	segments := strings.Split(path, ".")
	accessor := &FieldAccessor{path: path, typ: t}
	current := t
	for _, segment := range segments {
		for current.Kind() == reflect.Ptr {
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return nil, NewError(ErrorTypeInvalidFilter,
				fmt.Sprintf("field path %q: segment %q is not addressable on %v", path, segment, current))
		}
		sf, ok := fieldByNameFold(current, segment)
		if !ok {
			return nil, NewError(ErrorTypeInvalidFilter,
				fmt.Sprintf("field %q not found on %v (path %q)", segment, current, path))
		}
		accessor.index = append(accessor.index, sf.Index)
		current = sf.Type
	}
	for current.Kind() == reflect.Ptr {
		current = current.Elem()
	}
	accessor.leaf = current

	actual, _ := accessorCache.LoadOrStore(key, accessor)
	return actual.(*FieldAccessor), nil
}

func fieldByNameFold(t reflect.Type, name string) (reflect.StructField, bool) {
	if sf, ok := t.FieldByName(name); ok && sf.IsExported() {
		return sf, true
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.IsExported() && strings.EqualFold(sf.Name, name) {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

// =====================================
// Identity Access
// =====================================

// EntityID reads the id field of an entity via its cached metadata
func EntityID(info *EntityInfo, entity reflect.Value) (interface{}, error) {
	if info.IDField == nil {
		return nil, NewError(ErrorTypeInvalidID,
			fmt.Sprintf("entity %s has no ID field", info.Name))
	}
	for entity.Kind() == reflect.Ptr {
		entity = entity.Elem()
	}
	return entity.FieldByIndex(info.IDField.Index).Interface(), nil
}

// SetEntityID writes the id field of an entity, converting the generated id
// to the field's static type when assignable.
func SetEntityID(info *EntityInfo, entity reflect.Value, id interface{}) error {
	if info.IDField == nil {
		return NewError(ErrorTypeInvalidID,
			fmt.Sprintf("entity %s has no ID field", info.Name))
	}
	for entity.Kind() == reflect.Ptr {
		entity = entity.Elem()
	}
	field := entity.FieldByIndex(info.IDField.Index)
	value := reflect.ValueOf(id)
	if !value.Type().AssignableTo(field.Type()) {
		if value.Type().ConvertibleTo(field.Type()) {
			value = value.Convert(field.Type())
		} else {
			return NewError(ErrorTypeInvalidID,
				fmt.Sprintf("generated id %T is not assignable to %s.%s", id, info.Name, info.IDField.Name))
		}
	}
	field.Set(value)
	return nil
}
