package repokit

import (
	"fmt"
	"reflect"
	"sort"
)

// =====================================
// Order Builder
// =====================================

// orderKey is one compiled (accessor, direction) pair
type orderKey struct {
	accessor  *FieldAccessor
	direction OrderDirection
}

// Orderer sorts entity slices by a list of compiled ordering keys.
// Multiple orderings apply as a stable multi-key sort: the first criteria is
// the primary key, later criteria break ties in listed order.
type Orderer[T any] struct {
	keys []orderKey
}

// NewOrderer compiles ordering criteria against entity type T. An ordering
// field that does not resolve against the entity's shape fails immediately
// with ErrorTypeInvalidOrder rather than being silently ignored.
func NewOrderer[T any](orderings ...FilterOrderCriteria) (*Orderer[T], error) {
	info, err := GetEntityInfo[T]()
	if err != nil {
		return nil, err
	}
	keys := make([]orderKey, 0, len(orderings))
	for _, ordering := range orderings {
		if ordering.Field == "" {
			return nil, NewError(ErrorTypeInvalidOrder, "ordering criteria requires a field")
		}
		accessor, err := CompileAccessor(info.Type, ordering.Field)
		if err != nil {
			return nil, NewError(ErrorTypeInvalidOrder,
				fmt.Sprintf("ordering field %q not found on %s", ordering.Field, info.Name))
		}
		direction := ordering.Direction
		if direction == "" {
			direction = OrderAsc
		}
		keys = append(keys, orderKey{accessor: accessor, direction: direction})
	}
	return &Orderer[T]{keys: keys}, nil
}

// Empty reports whether the orderer has no keys
func (o *Orderer[T]) Empty() bool {
	return len(o.keys) == 0
}

// Sort orders the slice in place. The sort is stable, so repeated calls
// over unchanged data return identical output.
func (o *Orderer[T]) Sort(entities []*T) {
	if len(o.keys) == 0 || len(entities) < 2 {
		return
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return o.less(entities[i], entities[j])
	})
}

func (o *Orderer[T]) less(a, b *T) bool {
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	for _, key := range o.keys {
		aValue, aOK := key.accessor.Get(av)
		bValue, bOK := key.accessor.Get(bv)

		// Nil fields sort before non-nil ones in ascending order
		if !aOK || aValue == nil || !bOK || bValue == nil {
			aNil := !aOK || aValue == nil
			bNil := !bOK || bValue == nil
			if aNil == bNil {
				continue
			}
			if key.direction == OrderDesc {
				return bNil
			}
			return aNil
		}

		cmp, ok := compareValues(aValue, bValue)
		if !ok || cmp == 0 {
			continue
		}
		if key.direction == OrderDesc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}
