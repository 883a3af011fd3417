package repokit

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// =====================================
// Filter-to-Predicate Compiler
// =====================================

// FilterCompiler translates a FilterCriteria tree into a boolean test over
// an entity. Compilation resolves every field path, operator and named
// specification up front, so a malformed filter is rejected before any
// record is scanned; the returned predicate does no reflection-based path
// lookups per record beyond the compiled accessors.
type FilterCompiler[T any] struct {
	resolver *SpecificationResolver[T]
	rootType reflect.Type
}

// NewFilterCompiler creates a compiler for entity type T. The resolver may
// be nil when the filters never reference named specifications.
func NewFilterCompiler[T any](resolver *SpecificationResolver[T]) (*FilterCompiler[T], error) {
	info, err := GetEntityInfo[T]()
	if err != nil {
		return nil, err
	}
	return &FilterCompiler[T]{
		resolver: resolver,
		rootType: info.Type,
	}, nil
}

// Compile builds a single predicate from the criteria list. Multiple
// top-level criteria are AND-combined, matching FilterModel semantics.
func (c *FilterCompiler[T]) Compile(criteria ...FilterCriteria) (func(*T) bool, error) {
	if len(criteria) == 0 {
		return func(*T) bool { return true }, nil
	}
	preds := make([]func(reflect.Value) bool, 0, len(criteria))
	for _, node := range criteria {
		pred, err := c.compileNode(c.rootType, node, true)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return func(entity *T) bool {
		v := reflect.ValueOf(entity)
		for _, pred := range preds {
			if !pred(v) {
				return false
			}
		}
		return true
	}, nil
}

// CompileModel builds the predicate for a model's filter tree
func (c *FilterCompiler[T]) CompileModel(model *FilterModel) (func(*T) bool, error) {
	if model == nil {
		return func(*T) bool { return true }, nil
	}
	return c.Compile(model.Filters...)
}

func (c *FilterCompiler[T]) compileNode(t reflect.Type, node FilterCriteria, isRoot bool) (func(reflect.Value) bool, error) {
	switch node.CustomType {
	case CustomNamedSpecification:
		return c.compileNamedSpecification(node, isRoot)
	case CustomCompositeSpecification:
		return c.compileCompositeSpecification(node, isRoot)
	case CustomFullTextSearch:
		return c.compileFullText(t, node)
	}

	switch node.Operator {
	case OpAny, OpAll, OpNone:
		return c.compileQuantifier(t, node)
	}

	// Group node: children combined with the declared logic operator
	if node.Field == "" && len(node.Filters) > 0 {
		return c.compileGroup(t, node, isRoot)
	}

	return c.compileLeaf(t, node)
}

func (c *FilterCompiler[T]) compileGroup(t reflect.Type, node FilterCriteria, isRoot bool) (func(reflect.Value) bool, error) {
	logic := node.Logic
	if logic == "" {
		logic = LogicAnd
	}
	children := make([]func(reflect.Value) bool, 0, len(node.Filters))
	for _, child := range node.Filters {
		// The group stays at its caller's depth; deriving root-ness from the
		// type would wrongly admit named specifications inside quantifiers
		// over self-referential entities.
		pred, err := c.compileNode(t, child, isRoot)
		if err != nil {
			return nil, err
		}
		children = append(children, pred)
	}
	switch logic {
	case LogicAnd:
		return func(v reflect.Value) bool {
			for _, pred := range children {
				if !pred(v) {
					return false
				}
			}
			return true
		}, nil
	case LogicOr:
		return func(v reflect.Value) bool {
			for _, pred := range children {
				if pred(v) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown logic operator %q", node.Logic))
	}
}

func (c *FilterCompiler[T]) compileQuantifier(t reflect.Type, node FilterCriteria) (func(reflect.Value) bool, error) {
	if node.Field == "" {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("%s quantifier requires a field", node.Operator))
	}
	if len(node.Filters) == 0 {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("%s quantifier on %q requires child filters", node.Operator, node.Field))
	}
	accessor, err := CompileAccessor(t, node.Field)
	if err != nil {
		return nil, err
	}
	elemType := accessor.LeafType()
	if elemType.Kind() != reflect.Slice && elemType.Kind() != reflect.Array {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("%s quantifier requires a collection-valued field, %q is %v", node.Operator, node.Field, elemType))
	}
	childType := elemType.Elem()
	for childType.Kind() == reflect.Ptr {
		childType = childType.Elem()
	}

	children := make([]func(reflect.Value) bool, 0, len(node.Filters))
	for _, child := range node.Filters {
		pred, err := c.compileNode(childType, child, false)
		if err != nil {
			return nil, err
		}
		children = append(children, pred)
	}
	matches := func(elem reflect.Value) bool {
		for _, pred := range children {
			if !pred(elem) {
				return false
			}
		}
		return true
	}

	op := node.Operator
	return func(v reflect.Value) bool {
		value, ok := accessor.Get(v)
		// A nil or missing collection behaves as an empty one: Any is
		// false, All is vacuously true, None is true.
		var coll reflect.Value
		if ok && value != nil {
			coll = reflect.ValueOf(value)
		}
		length := 0
		if coll.IsValid() {
			length = coll.Len()
		}
		switch op {
		case OpAny:
			for i := 0; i < length; i++ {
				if matches(coll.Index(i)) {
					return true
				}
			}
			return false
		case OpAll:
			for i := 0; i < length; i++ {
				if !matches(coll.Index(i)) {
					return false
				}
			}
			return true
		default: // OpNone
			for i := 0; i < length; i++ {
				if matches(coll.Index(i)) {
					return false
				}
			}
			return true
		}
	}, nil
}

func (c *FilterCompiler[T]) compileNamedSpecification(node FilterCriteria, isRoot bool) (func(reflect.Value) bool, error) {
	if !isRoot {
		return nil, NewError(ErrorTypeSpecification,
			fmt.Sprintf("named specification %q can only be applied to the root entity", node.SpecificationName))
	}
	if c.resolver == nil {
		return nil, NewError(ErrorTypeSpecification,
			fmt.Sprintf("no resolver configured for named specification %q", node.SpecificationName))
	}
	spec, err := c.resolver.Resolve(node.SpecificationName, node.SpecificationArguments...)
	if err != nil {
		return nil, err
	}
	return func(v reflect.Value) bool {
		return spec.IsSatisfiedBy(v.Interface().(*T))
	}, nil
}

func (c *FilterCompiler[T]) compileCompositeSpecification(node FilterCriteria, isRoot bool) (func(reflect.Value) bool, error) {
	if !isRoot {
		return nil, NewError(ErrorTypeSpecification,
			"composite specifications can only be applied to the root entity")
	}
	if node.CompositeSpecification == nil {
		return nil, NewError(ErrorTypeInvalidFilter,
			"composite specification criteria has no specification tree")
	}
	spec, err := c.resolveSpecificationNode(node.CompositeSpecification.Node)
	if err != nil {
		return nil, err
	}
	return func(v reflect.Value) bool {
		return spec.IsSatisfiedBy(v.Interface().(*T))
	}, nil
}

func (c *FilterCompiler[T]) resolveSpecificationNode(node SpecificationNode) (Specification[T], error) {
	if !node.IsGroup() {
		if c.resolver == nil {
			return nil, NewError(ErrorTypeSpecification,
				fmt.Sprintf("no resolver configured for specification %q", node.Name))
		}
		return c.resolver.Resolve(node.Name, node.Arguments...)
	}
	children := make([]Specification[T], 0, len(node.Children))
	for _, child := range node.Children {
		spec, err := c.resolveSpecificationNode(child)
		if err != nil {
			return nil, err
		}
		children = append(children, spec)
	}
	switch node.Logic {
	case LogicOr:
		return Or(children...), nil
	case LogicAnd, "":
		return And(children...), nil
	default:
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown logic operator %q in composite specification", node.Logic))
	}
}

func (c *FilterCompiler[T]) compileFullText(t reflect.Type, node FilterCriteria) (func(reflect.Value) bool, error) {
	if node.Field == "" {
		return nil, NewError(ErrorTypeInvalidFilter, "full-text search requires a field")
	}
	search, ok := node.Value.(string)
	if !ok {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("full-text search on %q requires a string value, got %T", node.Field, node.Value))
	}
	accessor, err := CompileAccessor(t, node.Field)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(search))
	return func(v reflect.Value) bool {
		value, ok := accessor.Get(v)
		if !ok || value == nil {
			return false
		}
		text, ok := value.(string)
		if !ok {
			return false
		}
		text = strings.ToLower(text)
		for _, term := range terms {
			if !strings.Contains(text, term) {
				return false
			}
		}
		return true
	}, nil
}

func (c *FilterCompiler[T]) compileLeaf(t reflect.Type, node FilterCriteria) (func(reflect.Value) bool, error) {
	if node.Field == "" {
		return nil, NewError(ErrorTypeInvalidFilter, "filter criteria requires a field")
	}
	if len(node.Filters) > 0 {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("criteria on %q has both a value and child filters", node.Field))
	}
	accessor, err := CompileAccessor(t, node.Field)
	if err != nil {
		return nil, err
	}

	op := node.Operator
	if op == "" {
		op = OpEqual
	}
	filterValue := node.Value
	caseSensitive := node.CaseSensitive

	switch op {
	case OpEqual:
		return leafPredicate(accessor, func(v interface{}) bool {
			return equalValues(v, filterValue)
		}), nil
	case OpNotEqual:
		return leafPredicate(accessor, func(v interface{}) bool {
			return !equalValues(v, filterValue)
		}), nil
	case OpGreaterThan:
		return comparePredicate(accessor, filterValue, func(cmp int) bool { return cmp > 0 }), nil
	case OpGreaterThanOrEqual:
		return comparePredicate(accessor, filterValue, func(cmp int) bool { return cmp >= 0 }), nil
	case OpLessThan:
		return comparePredicate(accessor, filterValue, func(cmp int) bool { return cmp < 0 }), nil
	case OpLessThanOrEqual:
		return comparePredicate(accessor, filterValue, func(cmp int) bool { return cmp <= 0 }), nil
	case OpContains, OpNotContains, OpStartsWith, OpNotStartsWith, OpEndsWith, OpNotEndsWith:
		return stringPredicate(accessor, op, filterValue, caseSensitive)
	case OpIsNull:
		return func(v reflect.Value) bool {
			value, ok := accessor.Get(v)
			return !ok || value == nil
		}, nil
	case OpIsNotNull:
		return func(v reflect.Value) bool {
			value, ok := accessor.Get(v)
			return ok && value != nil
		}, nil
	case OpIsEmpty:
		return emptinessPredicate(accessor, true), nil
	case OpIsNotEmpty:
		return emptinessPredicate(accessor, false), nil
	case OpIn, OpNotIn:
		return membershipPredicate(accessor, op, filterValue, node.Field)
	default:
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown operator %q on field %q", op, node.Field))
	}
}

// leafPredicate applies test to the field value; nil or unreachable fields
// never match.
func leafPredicate(accessor *FieldAccessor, test func(interface{}) bool) func(reflect.Value) bool {
	return func(v reflect.Value) bool {
		value, ok := accessor.Get(v)
		if !ok {
			return false
		}
		return test(value)
	}
}

func comparePredicate(accessor *FieldAccessor, filterValue interface{}, want func(int) bool) func(reflect.Value) bool {
	return leafPredicate(accessor, func(v interface{}) bool {
		cmp, ok := compareValues(v, filterValue)
		if !ok {
			return false
		}
		return want(cmp)
	})
}

func stringPredicate(accessor *FieldAccessor, op Operator, filterValue interface{}, caseSensitive bool) (func(reflect.Value) bool, error) {
	search, ok := filterValue.(string)
	if !ok {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q requires a string value, got %T", op, filterValue))
	}
	if !caseSensitive {
		search = strings.ToLower(search)
	}
	return leafPredicate(accessor, func(v interface{}) bool {
		text, ok := v.(string)
		if !ok {
			return false
		}
		if !caseSensitive {
			text = strings.ToLower(text)
		}
		var match bool
		switch op {
		case OpContains, OpNotContains:
			match = strings.Contains(text, search)
		case OpStartsWith, OpNotStartsWith:
			match = strings.HasPrefix(text, search)
		default:
			match = strings.HasSuffix(text, search)
		}
		if op == OpNotContains || op == OpNotStartsWith || op == OpNotEndsWith {
			return !match
		}
		return match
	}), nil
}

func emptinessPredicate(accessor *FieldAccessor, wantEmpty bool) func(reflect.Value) bool {
	return func(v reflect.Value) bool {
		value, ok := accessor.Get(v)
		empty := true
		if ok && value != nil {
			rv := reflect.ValueOf(value)
			switch rv.Kind() {
			case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
				empty = rv.Len() == 0
			default:
				empty = false
			}
		}
		return empty == wantEmpty
	}
}

func membershipPredicate(accessor *FieldAccessor, op Operator, filterValue interface{}, field string) (func(reflect.Value) bool, error) {
	if filterValue == nil {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q on %q requires a list value", op, field))
	}
	rv := reflect.ValueOf(filterValue)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, NewError(ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q on %q requires a list value, got %T", op, field, filterValue))
	}
	members := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		members[i] = rv.Index(i).Interface()
	}
	negate := op == OpNotIn
	return leafPredicate(accessor, func(v interface{}) bool {
		found := false
		for _, member := range members {
			if equalValues(v, member) {
				found = true
				break
			}
		}
		return found != negate
	}), nil
}

// =====================================
// Value Comparison
// =====================================

func coerceFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// compareValues orders two loosely typed values. Numbers compare after
// float64 coercion (JSON deserialization produces float64 for every number),
// strings lexicographically, time.Time chronologically. The second return is
// false when the values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, ok := coerceFloat(a); ok {
		bf, ok := coerceFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := coerceTime(b)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func coerceTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// equalValues reports loose equality: numbers after coercion, everything
// else exact.
func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := coerceFloat(a); ok {
		if bf, ok := coerceFloat(b); ok {
			return af == bf
		}
		return false
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := coerceTime(b)
		return ok && at.Equal(bt)
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return reflect.DeepEqual(a, b)
	}
	// Different concrete types that both stringify (e.g. uuid vs string)
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
