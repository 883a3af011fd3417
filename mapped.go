package repokit

import "context"

// =====================================
// Mapped Repository
// =====================================

// MappedRepository exposes a Repository over a domain entity type while
// persisting a different document shape underneath. Filter models pass
// straight through to the inner repository (their field paths resolve
// against the document type); typed specifications, which close over the
// entity type, apply after mapping.
//
// When entity-typed specifications are combined with paging, matching is
// done before paging by fetching the unpaged candidate set; a page is a
// page of matching entities, not a filtered page of documents.
type MappedRepository[TEntity any, TDocument any] struct {
	inner  Repository[TDocument]
	mapper EntityMapper[TEntity, TDocument]
}

// NewMappedRepository creates a repository over TEntity backed by a
// TDocument repository.
func NewMappedRepository[TEntity any, TDocument any](
	inner Repository[TDocument],
	mapper EntityMapper[TEntity, TDocument],
) *MappedRepository[TEntity, TDocument] {
	return &MappedRepository[TEntity, TDocument]{inner: inner, mapper: mapper}
}

func (r *MappedRepository[TEntity, TDocument]) mapAll(documents []*TDocument) ([]*TEntity, error) {
	entities := make([]*TEntity, 0, len(documents))
	for _, document := range documents {
		entity, err := r.mapper.ToEntity(document)
		if err != nil {
			return nil, NewErrorWithCause(ErrorTypeSerialization, "failed to map document to entity", err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// innerOptions translates entity-level criteria into document-level
// options. Specifications cannot cross the type boundary; they come back
// separately for post-mapping evaluation. When specifications are present,
// paging is withheld from the inner query and applied locally.
func innerOptions[TEntity any, TDocument any](opts []FindOption[TEntity]) ([]FindOption[TDocument], *FindCriteria[TEntity]) {
	criteria := ApplyFindOptions(opts)
	deferPaging := len(criteria.Specifications) > 0

	var inner []FindOption[TDocument]
	if criteria.Model != nil {
		inner = append(inner, WithFilter[TDocument](criteria.Model))
	}
	for _, ordering := range criteria.Orderings {
		inner = append(inner, WithOrdering[TDocument](ordering.Field, ordering.Direction))
	}
	if criteria.DistinctField != "" {
		inner = append(inner, WithDistinctBy[TDocument](criteria.DistinctField))
	}
	if deferPaging {
		// Explicit skip/take options override the model's paging; fetch the
		// full candidate set and page after specification matching.
		inner = append(inner, WithSkip[TDocument](0), WithTake[TDocument](-1))
	} else {
		if criteria.Skip != nil {
			inner = append(inner, WithSkip[TDocument](*criteria.Skip))
		}
		if criteria.Take != nil {
			inner = append(inner, WithTake[TDocument](*criteria.Take))
		}
	}
	return inner, criteria
}

func matchAll[TEntity any](entities []*TEntity, specs []Specification[TEntity]) []*TEntity {
	if len(specs) == 0 {
		return entities
	}
	matched := make([]*TEntity, 0, len(entities))
	for _, entity := range entities {
		keep := true
		for _, spec := range specs {
			if !spec.IsSatisfiedBy(entity) {
				keep = false
				break
			}
		}
		if keep {
			matched = append(matched, entity)
		}
	}
	return matched
}

func pageSlice[TEntity any](entities []*TEntity, criteria *FindCriteria[TEntity]) []*TEntity {
	skip, take := 0, -1
	if criteria.Model != nil {
		skip = criteria.Model.Skip()
		take = criteria.Model.Take()
	}
	if criteria.Skip != nil {
		skip = *criteria.Skip
	}
	if criteria.Take != nil {
		take = *criteria.Take
	}
	if skip > 0 {
		if skip >= len(entities) {
			return nil
		}
		entities = entities[skip:]
	}
	if take >= 0 && take < len(entities) {
		entities = entities[:take]
	}
	return entities
}

func (r *MappedRepository[TEntity, TDocument]) FindAll(ctx context.Context, opts ...FindOption[TEntity]) ([]*TEntity, error) {
	inner, criteria := innerOptions[TEntity, TDocument](opts)
	documents, err := r.inner.FindAll(ctx, inner...)
	if err != nil {
		return nil, err
	}
	entities, err := r.mapAll(documents)
	if err != nil {
		return nil, err
	}
	if len(criteria.Specifications) == 0 {
		return entities, nil
	}
	return pageSlice(matchAll(entities, criteria.Specifications), criteria), nil
}

func (r *MappedRepository[TEntity, TDocument]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[TEntity], error) {
	page, err := r.inner.FindAllPaged(ctx, model)
	if err != nil {
		return nil, err
	}
	entities, err := r.mapAll(page.Items)
	if err != nil {
		return nil, err
	}
	return &Page[TEntity]{
		Items:      entities,
		TotalCount: page.TotalCount,
		Page:       page.Page,
		PageSize:   page.PageSize,
	}, nil
}

func (r *MappedRepository[TEntity, TDocument]) FindOne(ctx context.Context, opts ...FindOption[TEntity]) (*TEntity, error) {
	criteria := ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		// Paging is ignored: the first match comes from the whole set
		entities, err := r.FindAll(ctx, append(opts, WithSkip[TEntity](0), WithTake[TEntity](1))...)
		if err != nil || len(entities) == 0 {
			return nil, err
		}
		return entities[0], nil
	}
	inner, _ := innerOptions[TEntity, TDocument](opts)
	document, err := r.inner.FindOne(ctx, inner...)
	if err != nil || document == nil {
		return nil, err
	}
	return r.mapper.ToEntity(document)
}

func (r *MappedRepository[TEntity, TDocument]) FindOneByID(ctx context.Context, id interface{}) (*TEntity, error) {
	document, err := r.inner.FindOneByID(ctx, id)
	if err != nil || document == nil {
		return nil, err
	}
	entity, err := r.mapper.ToEntity(document)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeSerialization, "failed to map document to entity", err)
	}
	return entity, nil
}

func (r *MappedRepository[TEntity, TDocument]) Count(ctx context.Context, opts ...FindOption[TEntity]) (int64, error) {
	criteria := ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		entities, err := r.FindAll(ctx, opts...)
		if err != nil {
			return 0, err
		}
		return int64(len(entities)), nil
	}
	inner, _ := innerOptions[TEntity, TDocument](opts)
	return r.inner.Count(ctx, inner...)
}

func (r *MappedRepository[TEntity, TDocument]) Exists(ctx context.Context, id interface{}) (bool, error) {
	return r.inner.Exists(ctx, id)
}

func (r *MappedRepository[TEntity, TDocument]) Upsert(ctx context.Context, entity *TEntity) (*TEntity, RepositoryAction, error) {
	if entity == nil {
		return nil, ActionNone, NewError(ErrorTypeValidation, "entity cannot be nil")
	}
	document, err := r.mapper.ToDocument(entity)
	if err != nil {
		return nil, ActionNone, NewErrorWithCause(ErrorTypeSerialization, "failed to map entity to document", err)
	}
	persisted, action, err := r.inner.Upsert(ctx, document)
	if err != nil {
		return nil, action, err
	}
	mapped, err := r.mapper.ToEntity(persisted)
	if err != nil {
		return nil, action, NewErrorWithCause(ErrorTypeSerialization, "failed to map document to entity", err)
	}
	return mapped, action, nil
}

func (r *MappedRepository[TEntity, TDocument]) Insert(ctx context.Context, entity *TEntity) (*TEntity, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

func (r *MappedRepository[TEntity, TDocument]) Update(ctx context.Context, entity *TEntity) (*TEntity, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

func (r *MappedRepository[TEntity, TDocument]) Delete(ctx context.Context, entity *TEntity) (RepositoryAction, error) {
	if entity == nil {
		return ActionNone, NewError(ErrorTypeValidation, "entity cannot be nil")
	}
	document, err := r.mapper.ToDocument(entity)
	if err != nil {
		return ActionNone, NewErrorWithCause(ErrorTypeSerialization, "failed to map entity to document", err)
	}
	return r.inner.Delete(ctx, document)
}

func (r *MappedRepository[TEntity, TDocument]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	return r.inner.DeleteByID(ctx, id)
}
