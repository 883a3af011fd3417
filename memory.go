package repokit

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// =====================================
// In-Memory Repository
// =====================================

// MemoryContext is the ownership container holding the mutable entity list
// for one repository instance. It is the sole source of truth; the
// repository never caches results independently. Share a context between
// repositories only when they should see the same data.
type MemoryContext[T any] struct {
	entities []*T
}

// NewMemoryContext creates a context, optionally seeded with entities
func NewMemoryContext[T any](entities ...*T) *MemoryContext[T] {
	return &MemoryContext[T]{entities: entities}
}

// MemoryRepository is a concurrent-safe Repository implementation over a
// MemoryContext. Reads take a shared lock (readers never block readers);
// writes take an exclusive lock and are serialized. Predicate compilation
// and projections happen outside the critical section.
type MemoryRepository[T any] struct {
	mu       sync.RWMutex
	context  *MemoryContext[T]
	info     *EntityInfo
	idgen    IDGenerator
	resolver *SpecificationResolver[T]
	compiler *FilterCompiler[T]
	logger   Logger
}

// MemoryOption configures a MemoryRepository
type MemoryOption[T any] func(*MemoryRepository[T])

// WithMemoryContext supplies a pre-seeded (or shared) entity context
func WithMemoryContext[T any](context *MemoryContext[T]) MemoryOption[T] {
	return func(r *MemoryRepository[T]) { r.context = context }
}

// WithIDGenerator overrides the id strategy chosen from the id field's type
func WithIDGenerator[T any](generator IDGenerator) MemoryOption[T] {
	return func(r *MemoryRepository[T]) { r.idgen = generator }
}

// WithSpecificationResolver supplies the registry used to resolve named
// specifications referenced by filter models.
func WithSpecificationResolver[T any](resolver *SpecificationResolver[T]) MemoryOption[T] {
	return func(r *MemoryRepository[T]) { r.resolver = resolver }
}

// WithRepositoryLogger supplies the logging sink
func WithRepositoryLogger[T any](logger Logger) MemoryOption[T] {
	return func(r *MemoryRepository[T]) { r.logger = logger }
}

// NewMemoryRepository creates a repository for entity type T. The entity
// must be a struct with an exported ID field; the id generation strategy
// defaults to the one matching the field's type.
func NewMemoryRepository[T any](opts ...MemoryOption[T]) (*MemoryRepository[T], error) {
	info, err := GetEntityInfo[T]()
	if err != nil {
		return nil, err
	}
	if info.IDField == nil {
		return nil, NewError(ErrorTypeInvalidID, "entity "+info.Name+" has no ID field")
	}

	r := &MemoryRepository[T]{
		info:   info,
		logger: NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.context == nil {
		r.context = NewMemoryContext[T]()
	}
	if r.idgen == nil {
		r.idgen, err = DefaultIDGenerator(info.IDField.Type)
		if err != nil {
			return nil, err
		}
	}
	r.compiler, err = NewFilterCompiler(r.resolver)
	if err != nil {
		return nil, err
	}
	r.seedIntGenerator()
	return r, nil
}

// seedIntGenerator raises a monotonic integer counter above any id already
// present, so adopted entities never collide with generated ids.
func (r *MemoryRepository[T]) seedIntGenerator() {
	gen, ok := r.idgen.(*IntIDGenerator)
	if !ok {
		return
	}
	for _, entity := range r.context.entities {
		id, err := r.entityID(entity)
		if err != nil {
			continue
		}
		if n, ok := coerceInt(id); ok {
			gen.Seed(n)
		}
	}
}

func (r *MemoryRepository[T]) entityID(entity *T) (interface{}, error) {
	return EntityID(r.info, valueOf(entity))
}

// =====================================
// Reads
// =====================================

// FindAll applies all specifications and filter criteria (AND), then
// ordering, then optional distinct collapsing, then skip/take paging.
func (r *MemoryRepository[T]) FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error) {
	items, _, err := r.pipeline(ctx, ApplyFindOptions(opts), true)
	return items, err
}

// FindAllPaged runs the model's pipeline and returns one page plus totals
func (r *MemoryRepository[T]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error) {
	if model == nil {
		model = NewFilterModel()
	}
	model.Normalize()
	criteria := &FindCriteria[T]{Model: model}
	items, total, err := r.pipeline(ctx, criteria, true)
	if err != nil {
		return nil, err
	}
	return &Page[T]{
		Items:      items,
		TotalCount: total,
		Page:       model.Page,
		PageSize:   model.Take(),
	}, nil
}

// FindOne returns the first match in filter order, or nil when nothing
// matches. Paging settings are ignored: the first match is taken from the
// whole filtered set, not from the model's page.
func (r *MemoryRepository[T]) FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error) {
	criteria := ApplyFindOptions(opts)
	one, zero := 1, 0
	criteria.Take = &one
	criteria.Skip = &zero
	items, _, err := r.pipeline(ctx, criteria, true)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// FindOneByID returns the entity with the given id, or nil if absent
func (r *MemoryRepository[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexOfLocked(id)
	if idx < 0 {
		return nil, nil
	}
	return r.context.entities[idx], nil
}

// Count returns the number of matching entities; the filtering path is the
// same as FindAll minus ordering and paging.
func (r *MemoryRepository[T]) Count(ctx context.Context, opts ...FindOption[T]) (int64, error) {
	criteria := ApplyFindOptions(opts)
	criteria.Skip = nil
	criteria.Take = nil
	if criteria.Model != nil {
		// Paging in the model does not limit a count
		criteria.Model = &FilterModel{Filters: criteria.Model.Filters}
	}
	_, total, err := r.pipeline(ctx, criteria, false)
	return total, err
}

// Exists reports whether an entity with the given id exists
func (r *MemoryRepository[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOfLocked(id) >= 0, nil
}

// pipeline compiles predicates and comparators outside the lock, scans the
// collection under a read lock, then orders/collapses/pages the snapshot.
// The returned total is the match count before paging.
func (r *MemoryRepository[T]) pipeline(ctx context.Context, criteria *FindCriteria[T], orderAndPage bool) ([]*T, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	predicate, err := r.compiler.CompileModel(criteria.Model)
	if err != nil {
		return nil, 0, err
	}

	var orderer *Orderer[T]
	if orderAndPage {
		orderings := criteria.Orderings
		if len(orderings) == 0 && criteria.Model != nil {
			orderings = criteria.Model.Orderings
		}
		orderer, err = NewOrderer[T](orderings...)
		if err != nil {
			return nil, 0, err
		}
	}

	var distinct *FieldAccessor
	if criteria.DistinctField != "" {
		distinct, err = CompileAccessor(r.info.Type, criteria.DistinctField)
		if err != nil {
			return nil, 0, err
		}
	}

	r.mu.RLock()
	matched := make([]*T, 0, len(r.context.entities))
	for _, entity := range r.context.entities {
		if !predicate(entity) {
			continue
		}
		satisfied := true
		for _, spec := range criteria.Specifications {
			if !spec.IsSatisfiedBy(entity) {
				satisfied = false
				break
			}
		}
		if satisfied {
			matched = append(matched, entity)
		}
	}
	r.mu.RUnlock()

	if orderer != nil {
		orderer.Sort(matched)
	}

	if distinct != nil {
		seen := make([]interface{}, 0, len(matched))
		collapsed := matched[:0]
		for _, entity := range matched {
			key, _ := distinct.Get(valueOf(entity))
			duplicate := false
			for _, s := range seen {
				if equalValues(s, key) {
					duplicate = true
					break
				}
			}
			if !duplicate {
				seen = append(seen, key)
				collapsed = append(collapsed, entity)
			}
		}
		matched = collapsed
	}

	total := int64(len(matched))
	if !orderAndPage {
		return nil, total, nil
	}

	skip, take := r.paging(criteria)
	if skip > 0 {
		if skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[skip:]
		}
	}
	if take >= 0 && take < len(matched) {
		matched = matched[:take]
	}

	if criteria.Model != nil && criteria.Model.NoTracking {
		detached := make([]*T, len(matched))
		for i, entity := range matched {
			clone := *entity
			detached[i] = &clone
		}
		matched = detached
	}
	return matched, total, nil
}

// paging resolves skip/take: explicit options win, then the model's paging,
// otherwise the full set is returned.
func (r *MemoryRepository[T]) paging(criteria *FindCriteria[T]) (int, int) {
	skip, take := 0, -1
	if criteria.Model != nil {
		skip = criteria.Model.Skip()
		take = criteria.Model.Take()
	}
	if criteria.Skip != nil {
		skip = *criteria.Skip
	} else if criteria.Model == nil {
		skip = 0
	}
	if criteria.Take != nil {
		take = *criteria.Take
	}
	if skip < 0 {
		skip = 0
	}
	return skip, take
}

// =====================================
// Writes
// =====================================

// Upsert inserts or updates the entity. Newness is decided by the id
// generator's sentinel check, falling back to an existence probe for
// caller-supplied ids. Updates of ConcurrencyAware entities are rejected
// with a ConcurrencyError when the incoming token is stale; every
// successful write stamps a fresh token.
func (r *MemoryRepository[T]) Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, ActionNone, err
	}
	if entity == nil {
		return nil, ActionNone, NewError(ErrorTypeValidation, "cannot upsert a nil entity")
	}

	id, err := r.entityID(entity)
	if err != nil {
		return nil, ActionNone, err
	}
	generatorNew, err := r.idgen.IsNew(id)
	if err != nil {
		return nil, ActionNone, err
	}
	if generatorNew {
		id, err = r.idgen.Next()
		if err != nil {
			return nil, ActionNone, err
		}
		if err := SetEntityID(r.info, valueOf(entity), id); err != nil {
			return nil, ActionNone, err
		}
		id, _ = r.entityID(entity)
	}

	r.mu.Lock()
	idx := -1
	if !generatorNew {
		idx = r.indexOfLocked(id)
	}
	isNew := idx < 0

	if !isNew {
		if stored, ok := any(r.context.entities[idx]).(ConcurrencyAware); ok {
			incoming := any(entity).(ConcurrencyAware).ConcurrencyToken()
			actual := stored.ConcurrencyToken()
			if actual != "" && actual != incoming {
				r.mu.Unlock()
				return nil, ActionNone, ConcurrencyError{
					EntityID: id,
					Expected: incoming,
					Actual:   actual,
				}
			}
		}
	}

	if err := RunBeforeWrite(ctx, any(entity), isNew); err != nil {
		r.mu.Unlock()
		return nil, ActionNone, err
	}

	if aware, ok := any(entity).(ConcurrencyAware); ok {
		aware.SetConcurrencyToken(uuid.NewString())
	}
	if isNew {
		r.context.entities = append(r.context.entities, entity)
	} else {
		r.context.entities[idx] = entity
	}
	r.mu.Unlock()

	action := ActionUpdated
	if isNew {
		action = ActionInserted
	}
	if err := RunAfterWrite(ctx, any(entity), isNew); err != nil {
		return entity, action, err
	}
	r.logger.Debug("entity upserted", map[string]interface{}{
		"entity": r.info.Name,
		"id":     id,
		"action": action,
	})
	return entity, action, nil
}

// Insert persists the entity through the same concurrency-checked path as
// Upsert.
func (r *MemoryRepository[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

// Update persists the entity through the same concurrency-checked path as
// Upsert.
func (r *MemoryRepository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

// Delete removes the given entity by its id
func (r *MemoryRepository[T]) Delete(ctx context.Context, entity *T) (RepositoryAction, error) {
	if entity == nil {
		return ActionNone, nil
	}
	id, err := r.entityID(entity)
	if err != nil {
		return ActionNone, err
	}
	return r.DeleteByID(ctx, id)
}

// DeleteByID removes the entity with the given id; a missing id is a no-op
// returning ActionNone, never an error.
func (r *MemoryRepository[T]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	if err := ctx.Err(); err != nil {
		return ActionNone, err
	}

	r.mu.Lock()
	idx := r.indexOfLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return ActionNone, nil
	}
	entity := r.context.entities[idx]
	if h, ok := any(entity).(BeforeDeleteHook); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			r.mu.Unlock()
			return ActionNone, err
		}
	}
	r.context.entities = append(r.context.entities[:idx], r.context.entities[idx+1:]...)
	r.mu.Unlock()

	if h, ok := any(entity).(AfterDeleteHook); ok {
		if err := h.AfterDelete(ctx); err != nil {
			return ActionDeleted, err
		}
	}
	r.logger.Debug("entity deleted", map[string]interface{}{
		"entity": r.info.Name,
		"id":     id,
	})
	return ActionDeleted, nil
}

// indexOfLocked finds the entity with the given id; callers hold the lock
func (r *MemoryRepository[T]) indexOfLocked(id interface{}) int {
	for i, entity := range r.context.entities {
		candidate, err := r.entityID(entity)
		if err != nil {
			continue
		}
		if equalValues(candidate, id) {
			return i
		}
	}
	return -1
}

func valueOf[T any](entity *T) reflect.Value {
	return reflect.ValueOf(entity)
}
