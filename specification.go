package repokit

// =====================================
// Specifications
// =====================================

// Specification wraps a boolean test over an entity instance.
// Specifications are composed with And, Or and Not; composition never
// mutates the operands and is total (any two specifications compose).
type Specification[T any] interface {
	// IsSatisfiedBy reports whether the entity matches the specification.
	IsSatisfiedBy(entity *T) bool
}

// funcSpecification adapts a plain predicate into a Specification
type funcSpecification[T any] struct {
	predicate func(*T) bool
}

func (s funcSpecification[T]) IsSatisfiedBy(entity *T) bool {
	return s.predicate(entity)
}

// NewSpecification creates a specification from a predicate function.
// Example: adults := NewSpecification(func(p *Person) bool { return p.Age >= 18 })
func NewSpecification[T any](predicate func(*T) bool) Specification[T] {
	return funcSpecification[T]{predicate: predicate}
}

// And returns a specification satisfied only when every given specification
// is satisfied. With no arguments the result is vacuously satisfied.
func And[T any](specs ...Specification[T]) Specification[T] {
	return funcSpecification[T]{predicate: func(entity *T) bool {
		for _, spec := range specs {
			if !spec.IsSatisfiedBy(entity) {
				return false
			}
		}
		return true
	}}
}

// Or returns a specification satisfied when at least one of the given
// specifications is satisfied.
func Or[T any](specs ...Specification[T]) Specification[T] {
	return funcSpecification[T]{predicate: func(entity *T) bool {
		for _, spec := range specs {
			if spec.IsSatisfiedBy(entity) {
				return true
			}
		}
		return false
	}}
}

// Not returns the negation of the given specification.
func Not[T any](spec Specification[T]) Specification[T] {
	return funcSpecification[T]{predicate: func(entity *T) bool {
		return !spec.IsSatisfiedBy(entity)
	}}
}

// Predicate converts a specification back into a callable boolean test,
// useful when feeding specifications into code that expects plain functions.
func Predicate[T any](spec Specification[T]) func(*T) bool {
	return spec.IsSatisfiedBy
}
