package repokit

import "context"

// =====================================
// Core Repository Interfaces
// =====================================

// Repository is the stable contract higher layers depend on. All
// implementations (memory, document, SQL) honor the same semantics:
// "not found" is a nil result or ActionNone, never an error; a stale
// concurrency token on update is a ConcurrencyError; malformed filters fail
// before any record is scanned.
type Repository[T any] interface {
	// FindAll retrieves entities matching all given specifications and
	// filter options (AND-combined), ordered, optionally distinct-collapsed,
	// then paged. Omitting skip and take returns the full filtered set.
	// Example: people, err := repo.FindAll(ctx, WithFilter(model))
	FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error)

	// FindAllPaged runs the model's filter/order pipeline and returns one
	// page of results together with the total pre-paging count.
	FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error)

	// FindOne returns the first match or nil when nothing matches.
	// Callers distinguish "not found" (nil, nil) from errors explicitly.
	FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error)

	// FindOneByID returns the entity with the given id, or nil if absent
	FindOneByID(ctx context.Context, id interface{}) (*T, error)

	// Count returns the number of entities matching the options
	Count(ctx context.Context, opts ...FindOption[T]) (int64, error)

	// Exists reports whether an entity with the given id exists
	Exists(ctx context.Context, id interface{}) (bool, error)

	// Upsert inserts the entity when its id is the "new" sentinel (or
	// unknown), otherwise updates it under an optimistic concurrency check.
	// Returns the persisted entity and whether it was inserted or updated.
	Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error)

	// Insert is an intent-revealing wrapper over Upsert
	Insert(ctx context.Context, entity *T) (*T, error)

	// Update is an intent-revealing wrapper over Upsert
	Update(ctx context.Context, entity *T) (*T, error)

	// Delete removes the entity; deleting a non-existent entity returns
	// ActionNone, not an error.
	Delete(ctx context.Context, entity *T) (RepositoryAction, error)

	// DeleteByID removes the entity with the given id
	DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error)
}

// ProjectAll runs the same filter/order/page pipeline as FindAll, then maps
// each surviving entity through the projection. The projection runs outside
// any repository lock.
func ProjectAll[T any, R any](ctx context.Context, repo Repository[T], projection func(*T) R, opts ...FindOption[T]) ([]R, error) {
	entities, err := repo.FindAll(ctx, opts...)
	if err != nil {
		return nil, err
	}
	results := make([]R, 0, len(entities))
	for _, entity := range entities {
		results = append(results, projection(entity))
	}
	return results, nil
}

// ConcurrencyAware marks entities that opt into optimistic concurrency.
// The repository compares the incoming token against the stored one on
// update and stamps a fresh token on every successful write.
type ConcurrencyAware interface {
	ConcurrencyToken() string
	SetConcurrencyToken(token string)
}

// EntityMapper maps between a domain entity and the alternate "database"
// shape an adapter persists. Filter models apply to the database shape
// (their field paths are resolved against it); typed specifications apply
// to the mapped entity.
type EntityMapper[TEntity any, TDocument any] interface {
	ToDocument(entity *TEntity) (*TDocument, error)
	ToEntity(document *TDocument) (*TEntity, error)
}

// FuncEntityMapper adapts a pair of functions into an EntityMapper
type FuncEntityMapper[TEntity any, TDocument any] struct {
	MapToDocument func(*TEntity) (*TDocument, error)
	MapToEntity   func(*TDocument) (*TEntity, error)
}

func (m FuncEntityMapper[TEntity, TDocument]) ToDocument(entity *TEntity) (*TDocument, error) {
	return m.MapToDocument(entity)
}

func (m FuncEntityMapper[TEntity, TDocument]) ToEntity(document *TDocument) (*TEntity, error) {
	return m.MapToEntity(document)
}

// =====================================
// Find Options
// =====================================

// FindCriteria aggregates everything a find-style operation needs
type FindCriteria[T any] struct {
	Specifications []Specification[T]
	Model          *FilterModel
	Orderings      []FilterOrderCriteria
	Skip           *int
	Take           *int
	DistinctField  string
}

// FindOption configures a find-style operation
type FindOption[T any] interface {
	Apply(criteria *FindCriteria[T])
}

// ApplyFindOptions folds a list of options into a criteria struct
func ApplyFindOptions[T any](opts []FindOption[T]) *FindCriteria[T] {
	criteria := &FindCriteria[T]{}
	for _, opt := range opts {
		opt.Apply(criteria)
	}
	return criteria
}

type specificationOption[T any] struct {
	spec Specification[T]
}

func (o specificationOption[T]) Apply(criteria *FindCriteria[T]) {
	criteria.Specifications = append(criteria.Specifications, o.spec)
}

// WithSpecification adds a typed specification; all specifications and
// filter criteria must match (AND).
func WithSpecification[T any](spec Specification[T]) FindOption[T] {
	return specificationOption[T]{spec: spec}
}

type filterOption[T any] struct {
	model *FilterModel
}

func (o filterOption[T]) Apply(criteria *FindCriteria[T]) {
	if criteria.Model == nil {
		// Copy so the pipeline never mutates the caller's model
		clone := *o.model
		clone.Filters = append([]FilterCriteria(nil), o.model.Filters...)
		clone.Orderings = append([]FilterOrderCriteria(nil), o.model.Orderings...)
		clone.Includes = append([]string(nil), o.model.Includes...)
		criteria.Model = &clone
		return
	}
	criteria.Model.Merge(o.model)
}

// WithFilter applies a declarative filter model. The model's orderings and
// paging are honored unless overridden by explicit options.
func WithFilter[T any](model *FilterModel) FindOption[T] {
	return filterOption[T]{model: model}
}

type orderingOption[T any] struct {
	ordering FilterOrderCriteria
}

func (o orderingOption[T]) Apply(criteria *FindCriteria[T]) {
	criteria.Orderings = append(criteria.Orderings, o.ordering)
}

// WithOrdering adds an ordering key; keys apply in call order as primary
// then tie-break sorts.
func WithOrdering[T any](field string, direction OrderDirection) FindOption[T] {
	return orderingOption[T]{ordering: FilterOrderCriteria{Field: field, Direction: direction}}
}

type skipOption[T any] struct{ count int }

func (o skipOption[T]) Apply(criteria *FindCriteria[T]) {
	criteria.Skip = &o.count
}

// WithSkip skips the first count results after filtering and ordering
func WithSkip[T any](count int) FindOption[T] {
	return skipOption[T]{count: count}
}

type takeOption[T any] struct{ count int }

func (o takeOption[T]) Apply(criteria *FindCriteria[T]) {
	criteria.Take = &o.count
}

// WithTake caps the result set at count items. Take with no skip means
// "first N".
func WithTake[T any](count int) FindOption[T] {
	return takeOption[T]{count: count}
}

type distinctOption[T any] struct{ field string }

func (o distinctOption[T]) Apply(criteria *FindCriteria[T]) {
	criteria.DistinctField = o.field
}

// WithDistinctBy collapses results to the first entity per distinct value
// of the given field, applied after ordering and before paging.
func WithDistinctBy[T any](field string) FindOption[T] {
	return distinctOption[T]{field: field}
}

// =====================================
// Paging
// =====================================

// Page is one page of results plus the metadata callers need to render
// pagination.
type Page[T any] struct {
	Items      []*T  `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
}

// TotalPages returns the number of pages the total count spans
func (p *Page[T]) TotalPages() int {
	if p.PageSize < 1 {
		return 0
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// HasNextPage reports whether a later page exists
func (p *Page[T]) HasNextPage() bool {
	return p.Page < p.TotalPages()
}

// HasPreviousPage reports whether an earlier page exists
func (p *Page[T]) HasPreviousPage() bool {
	return p.Page > 1
}
