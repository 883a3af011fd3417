package repokit

import "fmt"

// =====================================
// Specification Resolver
// =====================================

// SpecificationFactory produces a specification instance from the arguments
// carried by a serialized filter criteria.
type SpecificationFactory[T any] func(args ...interface{}) (Specification[T], error)

// SpecificationResolver maps string names to specification factories so that
// specifications referenced by name in a FilterModel can be reconstructed.
//
// The resolver is an explicit dependency of the filter compiler rather than
// process-wide state; create one per entity type, register specifications at
// startup (or test setup) and pass it to NewFilterCompiler or the repository.
// Registration is not synchronized: register everything before the resolver
// is shared across goroutines.
type SpecificationResolver[T any] struct {
	factories map[string]SpecificationFactory[T]
}

// NewSpecificationResolver creates an empty resolver
func NewSpecificationResolver[T any]() *SpecificationResolver[T] {
	return &SpecificationResolver[T]{
		factories: make(map[string]SpecificationFactory[T]),
	}
}

// Register registers or overwrites a name-to-factory mapping.
// Example: resolver.Register("IsAdult", func(args ...interface{}) (Specification[Person], error) {...})
func (r *SpecificationResolver[T]) Register(name string, factory SpecificationFactory[T]) {
	r.factories[name] = factory
}

// Resolve looks up the factory registered under name and invokes it with the
// supplied arguments. A lookup miss and a factory argument mismatch are both
// ErrorTypeSpecification failures carrying the specification name.
func (r *SpecificationResolver[T]) Resolve(name string, args ...interface{}) (Specification[T], error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, NewError(ErrorTypeSpecification,
			fmt.Sprintf("specification %q is not registered", name))
	}
	spec, err := factory(args...)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeSpecification,
			fmt.Sprintf("specification %q rejected its arguments", name), err)
	}
	return spec, nil
}

// IsRegistered reports whether a factory is registered under name
func (r *SpecificationResolver[T]) IsRegistered(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Clear resets the registry. Used to isolate tests.
func (r *SpecificationResolver[T]) Clear() {
	r.factories = make(map[string]SpecificationFactory[T])
}

// ArgAt returns the argument at index coerced to the requested type.
// JSON deserialization turns numbers into float64, so factories reading
// integer arguments should use ArgInt instead of a direct type assertion.
func ArgAt[A any](args []interface{}, index int) (A, error) {
	var zero A
	if index >= len(args) {
		return zero, NewError(ErrorTypeSpecification,
			fmt.Sprintf("missing specification argument at index %d", index))
	}
	value, ok := args[index].(A)
	if !ok {
		return zero, NewError(ErrorTypeSpecification,
			fmt.Sprintf("specification argument %d has type %T", index, args[index]))
	}
	return value, nil
}

// ArgInt returns the argument at index as an int, accepting the numeric
// types a JSON round-trip can produce.
func ArgInt(args []interface{}, index int) (int, error) {
	if index >= len(args) {
		return 0, NewError(ErrorTypeSpecification,
			fmt.Sprintf("missing specification argument at index %d", index))
	}
	switch v := args[index].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	default:
		return 0, NewError(ErrorTypeSpecification,
			fmt.Sprintf("specification argument %d has type %T, want a number", index, args[index]))
	}
}
