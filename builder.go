package repokit

// =====================================
// Filter Builder
// =====================================

// FilterBuilder provides a fluent interface for building filter models.
// Supports method chaining for convenient construction.
type FilterBuilder struct {
	model *FilterModel
}

// NewFilterBuilder creates a new builder with defaulted paging.
// Example: model := NewFilterBuilder().Where("Age", OpGreaterThanOrEqual, 18).Build()
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{model: NewFilterModel()}
}

// Where adds a plain field comparison to the top-level filters.
// Top-level filters are implicitly AND-combined.
func (b *FilterBuilder) Where(field string, operator Operator, value interface{}) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, FilterCriteria{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return b
}

// WhereCriteria adds a pre-built criteria node, useful for groups and
// quantifiers assembled elsewhere.
func (b *FilterBuilder) WhereCriteria(criteria FilterCriteria) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, criteria)
	return b
}

// WhereAny adds a quantifier requiring at least one element of the
// collection-valued field to match the child criteria.
// Example: b.WhereAny("Orders", Criteria("TotalAmount", OpGreaterThan, 100))
func (b *FilterBuilder) WhereAny(field string, children ...FilterCriteria) *FilterBuilder {
	return b.quantifier(field, OpAny, children)
}

// WhereAll adds a quantifier requiring every element of the collection-valued
// field to match the child criteria.
func (b *FilterBuilder) WhereAll(field string, children ...FilterCriteria) *FilterBuilder {
	return b.quantifier(field, OpAll, children)
}

// WhereNone adds a quantifier requiring no element of the collection-valued
// field to match the child criteria.
func (b *FilterBuilder) WhereNone(field string, children ...FilterCriteria) *FilterBuilder {
	return b.quantifier(field, OpNone, children)
}

func (b *FilterBuilder) quantifier(field string, op Operator, children []FilterCriteria) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, FilterCriteria{
		Field:    field,
		Operator: op,
		Filters:  children,
	})
	return b
}

// WhereGroup adds a group node combining the child criteria with the given
// logic operator.
func (b *FilterBuilder) WhereGroup(logic LogicOperator, children ...FilterCriteria) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, FilterCriteria{
		Logic:   logic,
		Filters: children,
	})
	return b
}

// WhereSpecification adds a reference to a named specification resolved at
// compile time through the repository's SpecificationResolver.
func (b *FilterBuilder) WhereSpecification(name string, args ...interface{}) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, FilterCriteria{
		CustomType:             CustomNamedSpecification,
		SpecificationName:      name,
		SpecificationArguments: args,
	})
	return b
}

// WhereComposite adds a composite specification tree
func (b *FilterBuilder) WhereComposite(node SpecificationNode) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, FilterCriteria{
		CustomType:             CustomCompositeSpecification,
		CompositeSpecification: &CompositeSpecification{Node: node},
	})
	return b
}

// WhereFullText adds a full-text-style rule: the search value is split on
// whitespace and every term must be present in the field's string value.
func (b *FilterBuilder) WhereFullText(field string, search string) *FilterBuilder {
	b.model.Filters = append(b.model.Filters, FilterCriteria{
		Field:      field,
		CustomType: CustomFullTextSearch,
		Value:      search,
	})
	return b
}

// OrderBy adds an ordering key. Multiple orderings apply in call order as
// primary, then tie-break keys.
func (b *FilterBuilder) OrderBy(field string, direction OrderDirection) *FilterBuilder {
	b.model.Orderings = append(b.model.Orderings, FilterOrderCriteria{
		Field:     field,
		Direction: direction,
	})
	return b
}

// Page sets the 1-based page number
func (b *FilterBuilder) Page(page int) *FilterBuilder {
	b.model.Page = page
	return b
}

// PageSize sets the page size
func (b *FilterBuilder) PageSize(size int) *FilterBuilder {
	b.model.PageSize = size
	return b
}

// Include adds navigation paths for adapters that resolve them eagerly
func (b *FilterBuilder) Include(paths ...string) *FilterBuilder {
	b.model.Includes = append(b.model.Includes, paths...)
	return b
}

// Hierarchy enables recursive parent/child traversal up to maxDepth, for
// adapters that support it
func (b *FilterBuilder) Hierarchy(path string, maxDepth int) *FilterBuilder {
	b.model.Hierarchy = path
	b.model.HierarchyMaxDepth = maxDepth
	return b
}

// NoTracking marks the query results as detached snapshots
func (b *FilterBuilder) NoTracking() *FilterBuilder {
	b.model.NoTracking = true
	return b
}

// Build returns the assembled model, normalized
func (b *FilterBuilder) Build() *FilterModel {
	return b.model.Normalize()
}

// Criteria is a convenience constructor for a plain comparison node,
// typically used as a quantifier or group child.
func Criteria(field string, operator Operator, value interface{}) FilterCriteria {
	return FilterCriteria{
		Field:    field,
		Operator: operator,
		Value:    value,
	}
}
