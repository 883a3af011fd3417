package repokit

import (
	"encoding/json"
	"net/url"
	"strings"
)

// =====================================
// Filter Model
// =====================================

// DefaultPageSize is applied when a FilterModel is created or cleared.
const DefaultPageSize = 10

// FilterCriteria is one node of a declarative filter tree.
//
// A plain node carries Field, Operator and Value. A quantifier node
// (OpAny/OpAll/OpNone) carries Field plus child Filters evaluated against
// each element of the collection-valued field. A group node carries Logic
// plus child Filters and no Field. Custom nodes are tagged through
// CustomType and resolved via a SpecificationResolver.
type FilterCriteria struct {
	Field    string        `json:"field,omitempty"`
	Operator Operator      `json:"operator,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
	Logic    LogicOperator `json:"logic,omitempty"`

	// Filters holds child nodes for quantifiers and groups
	Filters []FilterCriteria `json:"filters,omitempty"`

	// CaseSensitive switches string operators from the default
	// case-insensitive comparison to exact matching.
	CaseSensitive bool `json:"caseSensitive,omitempty"`

	CustomType             CustomFilterType        `json:"customType,omitempty"`
	SpecificationName      string                  `json:"specificationName,omitempty"`
	SpecificationArguments []interface{}           `json:"specificationArguments,omitempty"`
	CompositeSpecification *CompositeSpecification `json:"compositeSpecification,omitempty"`
}

// CompositeSpecification is a serializable tree of named specifications.
// A leaf node names a registered specification plus its arguments; a group
// node combines child nodes with a logic operator.
type CompositeSpecification struct {
	Node SpecificationNode `json:"node"`
}

// SpecificationNode is one node of a composite specification tree
type SpecificationNode struct {
	Name      string              `json:"name,omitempty"`
	Arguments []interface{}       `json:"arguments,omitempty"`
	Logic     LogicOperator       `json:"logic,omitempty"`
	Children  []SpecificationNode `json:"children,omitempty"`
}

// IsGroup reports whether the node combines children instead of naming a
// specification.
func (n SpecificationNode) IsGroup() bool {
	return len(n.Children) > 0
}

// FilterOrderCriteria describes one ordering key.
type FilterOrderCriteria struct {
	Field     string         `json:"field"`
	Direction OrderDirection `json:"direction,omitempty"`
}

// FilterModel is the declarative, serializable description of a query:
// filter nodes, ordering criteria, paging, includes and hierarchy traversal.
// Top-level Filters are implicitly AND-combined.
//
// Includes, Hierarchy and HierarchyMaxDepth are carried through
// serialization, Merge and ClearField for backend adapters that resolve
// navigation paths eagerly; the in-memory engine returns entities as stored
// and does not act on them.
type FilterModel struct {
	Page              int                   `json:"page"`
	PageSize          int                   `json:"pageSize"`
	Filters           []FilterCriteria      `json:"filters,omitempty"`
	Orderings         []FilterOrderCriteria `json:"orderings,omitempty"`
	Includes          []string              `json:"includes,omitempty"`
	Hierarchy         string                `json:"hierarchy,omitempty"`
	HierarchyMaxDepth int                   `json:"hierarchyMaxDepth,omitempty"`
	NoTracking        bool                  `json:"noTracking,omitempty"`
}

// NewFilterModel creates an empty model with defaulted paging (page 1,
// DefaultPageSize items per page).
func NewFilterModel() *FilterModel {
	return &FilterModel{
		Page:     1,
		PageSize: DefaultPageSize,
	}
}

// Normalize clamps paging to the documented invariants (Page >= 1,
// PageSize >= 1). Deserialized models should be normalized before use.
func (m *FilterModel) Normalize() *FilterModel {
	if m.Page < 1 {
		m.Page = 1
	}
	if m.PageSize < 1 {
		m.PageSize = DefaultPageSize
	}
	return m
}

// Skip returns the number of records the paging settings skip over
func (m *FilterModel) Skip() int {
	page := m.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * m.take()
}

// Take returns the page size
func (m *FilterModel) Take() int {
	return m.take()
}

func (m *FilterModel) take() int {
	if m.PageSize < 1 {
		return DefaultPageSize
	}
	return m.PageSize
}

// Clear removes all filters, orderings, includes and hierarchy settings and
// resets paging to its defaults.
func (m *FilterModel) Clear() *FilterModel {
	m.Page = 1
	m.PageSize = DefaultPageSize
	m.Filters = nil
	m.Orderings = nil
	m.Includes = nil
	m.Hierarchy = ""
	m.HierarchyMaxDepth = 0
	m.NoTracking = false
	return m
}

// ClearField removes every filter, ordering and include referencing the
// field at any nesting depth, and resets Hierarchy if it matches.
func (m *FilterModel) ClearField(field string) *FilterModel {
	m.Filters = clearCriteriaField(m.Filters, field)

	orderings := m.Orderings[:0]
	for _, o := range m.Orderings {
		if !strings.EqualFold(o.Field, field) {
			orderings = append(orderings, o)
		}
	}
	m.Orderings = orderings

	includes := m.Includes[:0]
	for _, inc := range m.Includes {
		if !strings.EqualFold(inc, field) {
			includes = append(includes, inc)
		}
	}
	m.Includes = includes

	if strings.EqualFold(m.Hierarchy, field) {
		m.Hierarchy = ""
		m.HierarchyMaxDepth = 0
	}
	return m
}

func clearCriteriaField(criteria []FilterCriteria, field string) []FilterCriteria {
	if len(criteria) == 0 {
		return criteria
	}
	kept := make([]FilterCriteria, 0, len(criteria))
	for _, c := range criteria {
		if strings.EqualFold(c.Field, field) {
			continue
		}
		c.Filters = clearCriteriaField(c.Filters, field)
		// A group or quantifier that lost all of its children no longer
		// filters anything; keeping it would leave a node the compiler
		// rejects.
		if c.Field == "" && c.CustomType == CustomNone && len(c.Filters) == 0 && c.Operator == "" {
			continue
		}
		if len(c.Filters) == 0 && (c.Operator == OpAny || c.Operator == OpAll || c.Operator == OpNone) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// Merge folds another model into this one. Filters and orderings sharing a
// field are replaced by the other model's entry; non-overlapping entries
// from both sides are kept. Includes are unioned and deduplicated. Paging
// and hierarchy settings from the other model win when set.
func (m *FilterModel) Merge(other *FilterModel) *FilterModel {
	if other == nil {
		return m
	}

	for _, oc := range other.Filters {
		replaced := false
		if oc.Field != "" {
			for i, c := range m.Filters {
				if strings.EqualFold(c.Field, oc.Field) {
					m.Filters[i] = oc
					replaced = true
					break
				}
			}
		}
		if !replaced {
			m.Filters = append(m.Filters, oc)
		}
	}

	for _, oo := range other.Orderings {
		replaced := false
		for i, o := range m.Orderings {
			if strings.EqualFold(o.Field, oo.Field) {
				m.Orderings[i] = oo
				replaced = true
				break
			}
		}
		if !replaced {
			m.Orderings = append(m.Orderings, oo)
		}
	}

	for _, inc := range other.Includes {
		found := false
		for _, existing := range m.Includes {
			if strings.EqualFold(existing, inc) {
				found = true
				break
			}
		}
		if !found {
			m.Includes = append(m.Includes, inc)
		}
	}

	if other.Page > 0 {
		m.Page = other.Page
	}
	if other.PageSize > 0 {
		m.PageSize = other.PageSize
	}
	if other.Hierarchy != "" {
		m.Hierarchy = other.Hierarchy
		m.HierarchyMaxDepth = other.HierarchyMaxDepth
	}
	if other.NoTracking {
		m.NoTracking = true
	}
	return m
}

// =====================================
// Serialization
// =====================================

// MarshalFilterModel serializes a model to its canonical JSON form
func MarshalFilterModel(m *FilterModel) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", NewErrorWithCause(ErrorTypeSerialization, "failed to marshal filter model", err)
	}
	return string(data), nil
}

// UnmarshalFilterModel deserializes a model from JSON and normalizes paging
func UnmarshalFilterModel(data string) (*FilterModel, error) {
	var m FilterModel
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, NewErrorWithCause(ErrorTypeSerialization, "failed to unmarshal filter model", err)
	}
	return m.Normalize(), nil
}

// EncodeFilterModel encodes a model as a single query-string value, suitable
// for transport in a URL parameter.
// Example: u.RawQuery = "filter=" + encoded
func EncodeFilterModel(m *FilterModel) (string, error) {
	data, err := MarshalFilterModel(m)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(data), nil
}

// DecodeFilterModel decodes a model previously encoded with
// EncodeFilterModel.
func DecodeFilterModel(encoded string) (*FilterModel, error) {
	data, err := url.QueryUnescape(encoded)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeSerialization, "failed to decode filter model parameter", err)
	}
	return UnmarshalFilterModel(data)
}
