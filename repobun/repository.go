package repobun

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/lemmego/repokit"
	"github.com/uptrace/bun"
)

// =====================================
// Repository
// =====================================

// Repository implements repokit.Repository over a single Bun-mapped table.
// Filter models translate to WHERE clauses so matching, ordering and paging
// run in the database; typed specifications are evaluated after scanning,
// with paging deferred until they have run. Quantifiers and named
// specifications have no single-table SQL form and fail with
// ErrorTypeUnsupported.
type Repository[T any] struct {
	db     *bun.DB
	info   *repokit.EntityInfo
	idgen  repokit.IDGenerator
	logger repokit.Logger

	idColumn      string
	versionColumn string
}

// Option configures a Repository
type Option[T any] func(*Repository[T])

// WithIDGenerator overrides the id strategy chosen from the id field's type
func WithIDGenerator[T any](generator repokit.IDGenerator) Option[T] {
	return func(r *Repository[T]) { r.idgen = generator }
}

// WithLogger supplies the logging sink
func WithLogger[T any](logger repokit.Logger) Option[T] {
	return func(r *Repository[T]) { r.logger = logger }
}

// NewRepository creates a repository for entity type T over the given
// database handle. The entity must be a struct with an exported ID field.
func NewRepository[T any](db *bun.DB, opts ...Option[T]) (*Repository[T], error) {
	info, err := repokit.GetEntityInfo[T]()
	if err != nil {
		return nil, err
	}
	if info.IDField == nil {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidID, "entity "+info.Name+" has no ID field")
	}

	r := &Repository[T]{
		db:     db,
		info:   info,
		logger: repokit.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.idgen == nil {
		r.idgen, err = repokit.DefaultIDGenerator(info.IDField.Type)
		if err != nil {
			return nil, err
		}
	}

	idField, _ := info.Type.FieldByName(info.IDField.Name)
	r.idColumn = columnName(idField)
	if info.VersionField != nil {
		versionField, _ := info.Type.FieldByName(info.VersionField.Name)
		r.versionColumn = columnName(versionField)
	} else {
		r.versionColumn = "version"
	}
	return r, nil
}

// =====================================
// Reads
// =====================================

func (r *Repository[T]) find(ctx context.Context, criteria *repokit.FindCriteria[T], forcePaging bool) ([]*T, error) {
	var entities []*T
	query := r.db.NewSelect().Model(&entities)

	clauses, err := buildModelWhere(r.info.Type, criteria.Model)
	if err != nil {
		return nil, err
	}
	for _, clause := range clauses {
		query = query.Where(clause.sql, clause.args...)
	}

	orderings := criteria.Orderings
	if len(orderings) == 0 && criteria.Model != nil {
		orderings = criteria.Model.Orderings
	}
	orderExprs, err := buildOrderExprs(r.info.Type, orderings)
	if err != nil {
		return nil, err
	}
	for _, expr := range orderExprs {
		query = query.OrderExpr(expr)
	}

	deferPaging := len(criteria.Specifications) > 0
	skip, take := resolvePaging(criteria, forcePaging)
	if !deferPaging {
		if skip != nil && *skip > 0 {
			query = query.Offset(*skip)
		}
		if take != nil && *take >= 0 {
			query = query.Limit(*take)
		}
	}

	if err := query.Scan(ctx); err != nil {
		return nil, convertBunError(err)
	}

	if deferPaging {
		matched := entities[:0]
		for _, entity := range entities {
			keep := true
			for _, spec := range criteria.Specifications {
				if !spec.IsSatisfiedBy(entity) {
					keep = false
					break
				}
			}
			if keep {
				matched = append(matched, entity)
			}
		}
		entities = applyLocalPaging(matched, skip, take)
	}

	if criteria.DistinctField != "" {
		entities, err = r.collapseDistinct(entities, criteria.DistinctField)
		if err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func resolvePaging[T any](criteria *repokit.FindCriteria[T], forcePaging bool) (*int, *int) {
	var skip, take *int
	if criteria.Model != nil && forcePaging {
		s, t := criteria.Model.Skip(), criteria.Model.Take()
		skip, take = &s, &t
	}
	if criteria.Skip != nil {
		skip = criteria.Skip
	}
	if criteria.Take != nil {
		take = criteria.Take
	}
	return skip, take
}

func applyLocalPaging[T any](entities []*T, skip, take *int) []*T {
	if skip != nil && *skip > 0 {
		if *skip >= len(entities) {
			return nil
		}
		entities = entities[*skip:]
	}
	if take != nil && *take >= 0 && *take < len(entities) {
		entities = entities[:*take]
	}
	return entities
}

func (r *Repository[T]) collapseDistinct(entities []*T, field string) ([]*T, error) {
	accessor, err := repokit.CompileAccessor(r.info.Type, field)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(entities))
	collapsed := entities[:0]
	for _, entity := range entities {
		value, _ := accessor.Get(reflect.ValueOf(entity))
		key := fmt.Sprintf("%v", value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		collapsed = append(collapsed, entity)
	}
	return collapsed, nil
}

// FindAll retrieves entities matching the given options
func (r *Repository[T]) FindAll(ctx context.Context, opts ...repokit.FindOption[T]) ([]*T, error) {
	return r.find(ctx, repokit.ApplyFindOptions(opts), true)
}

// FindAllPaged runs the model's pipeline and returns one page plus totals
func (r *Repository[T]) FindAllPaged(ctx context.Context, model *repokit.FilterModel) (*repokit.Page[T], error) {
	if model == nil {
		model = repokit.NewFilterModel()
	}
	model.Normalize()

	total, err := r.countModel(ctx, model)
	if err != nil {
		return nil, err
	}
	items, err := r.find(ctx, &repokit.FindCriteria[T]{Model: model}, true)
	if err != nil {
		return nil, err
	}
	return &repokit.Page[T]{
		Items:      items,
		TotalCount: total,
		Page:       model.Page,
		PageSize:   model.Take(),
	}, nil
}

// FindOne returns the first match, or nil when nothing matches
func (r *Repository[T]) FindOne(ctx context.Context, opts ...repokit.FindOption[T]) (*T, error) {
	criteria := repokit.ApplyFindOptions(opts)
	one := 1
	criteria.Take = &one
	criteria.Skip = nil
	items, err := r.find(ctx, criteria, true)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// FindOneByID returns the entity with the given id, or nil if absent
func (r *Repository[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	var entity T
	err := r.db.NewSelect().Model(&entity).Where(r.idColumn+" = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, convertBunError(err)
	}
	return &entity, nil
}

func (r *Repository[T]) countModel(ctx context.Context, model *repokit.FilterModel) (int64, error) {
	query := r.db.NewSelect().Model((*T)(nil))
	clauses, err := buildModelWhere(r.info.Type, model)
	if err != nil {
		return 0, err
	}
	for _, clause := range clauses {
		query = query.Where(clause.sql, clause.args...)
	}
	count, err := query.Count(ctx)
	if err != nil {
		return 0, convertBunError(err)
	}
	return int64(count), nil
}

// Count returns the number of matching entities
func (r *Repository[T]) Count(ctx context.Context, opts ...repokit.FindOption[T]) (int64, error) {
	criteria := repokit.ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		criteria.Skip = nil
		criteria.Take = nil
		items, err := r.find(ctx, criteria, false)
		if err != nil {
			return 0, err
		}
		return int64(len(items)), nil
	}
	return r.countModel(ctx, criteria.Model)
}

// Exists reports whether an entity with the given id exists
func (r *Repository[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	exists, err := r.db.NewSelect().Model((*T)(nil)).Where(r.idColumn+" = ?", id).Exists(ctx)
	if err != nil {
		return false, convertBunError(err)
	}
	return exists, nil
}

// =====================================
// Writes
// =====================================

// Upsert inserts the entity when its id is the "new" sentinel or unknown,
// otherwise updates it. Updates of ConcurrencyAware entities carry the
// incoming token in the UPDATE's WHERE clause, so a stale write affects no
// rows and surfaces as a ConcurrencyError.
func (r *Repository[T]) Upsert(ctx context.Context, entity *T) (*T, repokit.RepositoryAction, error) {
	if entity == nil {
		return nil, repokit.ActionNone, repokit.NewError(repokit.ErrorTypeValidation, "cannot upsert a nil entity")
	}

	id, err := repokit.EntityID(r.info, reflect.ValueOf(entity))
	if err != nil {
		return nil, repokit.ActionNone, err
	}
	isNew, err := r.idgen.IsNew(id)
	if err != nil {
		return nil, repokit.ActionNone, err
	}
	if isNew {
		id, err = r.idgen.Next()
		if err != nil {
			return nil, repokit.ActionNone, err
		}
		if err := repokit.SetEntityID(r.info, reflect.ValueOf(entity), id); err != nil {
			return nil, repokit.ActionNone, err
		}
		id, _ = repokit.EntityID(r.info, reflect.ValueOf(entity))
		return r.insertNew(ctx, entity, id)
	}

	aware, concurrent := any(entity).(repokit.ConcurrencyAware)
	incoming := ""
	if concurrent {
		incoming = aware.ConcurrencyToken()
	}

	if err := repokit.RunBeforeWrite(ctx, any(entity), false); err != nil {
		return nil, repokit.ActionNone, err
	}
	if concurrent {
		aware.SetConcurrencyToken(uuid.NewString())
	}

	query := r.db.NewUpdate().Model(entity).Where(r.idColumn+" = ?", id)
	if concurrent && incoming != "" {
		query = query.Where(r.versionColumn+" = ?", incoming)
	}
	result, err := query.Exec(ctx)
	if err != nil {
		if concurrent {
			aware.SetConcurrencyToken(incoming)
		}
		return nil, repokit.ActionNone, convertBunError(err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		if err := repokit.RunAfterWrite(ctx, any(entity), false); err != nil {
			return entity, repokit.ActionUpdated, err
		}
		r.logWrite(id, repokit.ActionUpdated)
		return entity, repokit.ActionUpdated, nil
	}

	// No row changed: absent id means a caller-assigned insert; a present
	// id means the stored token diverged.
	stored, findErr := r.FindOneByID(ctx, id)
	if findErr != nil {
		if concurrent {
			aware.SetConcurrencyToken(incoming)
		}
		return nil, repokit.ActionNone, findErr
	}
	if stored == nil {
		if concurrent {
			aware.SetConcurrencyToken(incoming)
		}
		return r.insertNew(ctx, entity, id)
	}
	if concurrent {
		aware.SetConcurrencyToken(incoming)
	}
	actual := ""
	if storedAware, ok := any(stored).(repokit.ConcurrencyAware); ok {
		actual = storedAware.ConcurrencyToken()
	}
	return nil, repokit.ActionNone, repokit.ConcurrencyError{
		EntityID: id,
		Expected: incoming,
		Actual:   actual,
	}
}

func (r *Repository[T]) insertNew(ctx context.Context, entity *T, id interface{}) (*T, repokit.RepositoryAction, error) {
	if err := repokit.RunBeforeWrite(ctx, any(entity), true); err != nil {
		return nil, repokit.ActionNone, err
	}
	if aware, ok := any(entity).(repokit.ConcurrencyAware); ok {
		aware.SetConcurrencyToken(uuid.NewString())
	}
	if _, err := r.db.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, repokit.ActionNone, convertBunError(err)
	}
	if err := repokit.RunAfterWrite(ctx, any(entity), true); err != nil {
		return entity, repokit.ActionInserted, err
	}
	r.logWrite(id, repokit.ActionInserted)
	return entity, repokit.ActionInserted, nil
}

// Insert persists the entity through the same concurrency-checked path as
// Upsert.
func (r *Repository[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

// Update persists the entity through the same concurrency-checked path as
// Upsert.
func (r *Repository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

// Delete removes the given entity by its id, running its delete hooks
func (r *Repository[T]) Delete(ctx context.Context, entity *T) (repokit.RepositoryAction, error) {
	if entity == nil {
		return repokit.ActionNone, nil
	}
	id, err := repokit.EntityID(r.info, reflect.ValueOf(entity))
	if err != nil {
		return repokit.ActionNone, err
	}
	if h, ok := any(entity).(repokit.BeforeDeleteHook); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			return repokit.ActionNone, err
		}
	}
	action, err := r.DeleteByID(ctx, id)
	if err != nil || action != repokit.ActionDeleted {
		return action, err
	}
	if h, ok := any(entity).(repokit.AfterDeleteHook); ok {
		if err := h.AfterDelete(ctx); err != nil {
			return action, err
		}
	}
	return action, nil
}

// DeleteByID removes the entity with the given id; a missing id is a no-op
// returning ActionNone, never an error.
func (r *Repository[T]) DeleteByID(ctx context.Context, id interface{}) (repokit.RepositoryAction, error) {
	result, err := r.db.NewDelete().Model((*T)(nil)).Where(r.idColumn+" = ?", id).Exec(ctx)
	if err != nil {
		return repokit.ActionNone, convertBunError(err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return repokit.ActionNone, nil
	}
	r.logger.Debug("entity deleted", map[string]interface{}{
		"entity": r.info.Name,
		"id":     id,
	})
	return repokit.ActionDeleted, nil
}

func (r *Repository[T]) logWrite(id interface{}, action repokit.RepositoryAction) {
	r.logger.Debug("entity upserted", map[string]interface{}{
		"entity": r.info.Name,
		"id":     id,
		"action": action,
	})
}
