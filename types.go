package repokit

import "time"

// =====================================
// Core Types and Constants
// =====================================

// Config represents backend connection configuration used by adapter packages.
type Config struct {
	// Connection details
	Driver        string `json:"driver" yaml:"driver"`
	ConnectionURL string `json:"connection_url" yaml:"connection_url"`
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Database      string `json:"database" yaml:"database"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Additional options
	Options map[string]interface{} `json:"options" yaml:"options"`
}

// Operator represents filter operators.
// The string values are the wire format used when a FilterModel is serialized,
// so they are lowercase tokens rather than SQL fragments.
type Operator string

const (
	OpEqual              Operator = "eq"
	OpNotEqual           Operator = "neq"
	OpGreaterThan        Operator = "gt"
	OpGreaterThanOrEqual Operator = "gte"
	OpLessThan           Operator = "lt"
	OpLessThanOrEqual    Operator = "lte"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notcontains"
	OpStartsWith         Operator = "startswith"
	OpNotStartsWith      Operator = "notstartswith"
	OpEndsWith           Operator = "endswith"
	OpNotEndsWith        Operator = "notendswith"
	OpIsNull             Operator = "isnull"
	OpIsNotNull          Operator = "isnotnull"
	OpIsEmpty            Operator = "isempty"
	OpIsNotEmpty         Operator = "isnotempty"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notin"

	// Collection quantifiers. The criteria's child Filters are evaluated
	// against each element of the collection-valued field.
	OpAny  Operator = "any"
	OpAll  Operator = "all"
	OpNone Operator = "none"
)

// LogicOperator represents logic operators for combining filter criteria.
type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

// CustomFilterType marks a FilterCriteria as something other than a plain
// field comparison.
type CustomFilterType string

const (
	// CustomNone is the default: the criteria is a plain field comparison.
	CustomNone CustomFilterType = ""

	// CustomNamedSpecification resolves SpecificationName and
	// SpecificationArguments through a SpecificationResolver.
	CustomNamedSpecification CustomFilterType = "namedspecification"

	// CustomCompositeSpecification evaluates a tree of named specifications
	// combined with logic operators.
	CustomCompositeSpecification CustomFilterType = "compositespecification"

	// CustomFullTextSearch splits the value on whitespace and requires every
	// term to be contained in the field's string value.
	CustomFullTextSearch CustomFilterType = "fulltextsearch"
)

// OrderDirection represents sort direction.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// RepositoryAction describes the outcome of a repository mutation.
type RepositoryAction string

const (
	// ActionNone means the operation was a no-op, e.g. deleting an id that
	// does not exist.
	ActionNone     RepositoryAction = "none"
	ActionInserted RepositoryAction = "inserted"
	ActionUpdated  RepositoryAction = "updated"
	ActionDeleted  RepositoryAction = "deleted"
)

// ErrorType represents different types of errors that can occur.
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeInvalidFilter    ErrorType = "invalid_filter"
	ErrorTypeInvalidOrder     ErrorType = "invalid_order"
	ErrorTypeSpecification    ErrorType = "specification"
	ErrorTypeConcurrency      ErrorType = "concurrency"
	ErrorTypeInvalidID        ErrorType = "invalid_id"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeConnection       ErrorType = "connection"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeUnsupported      ErrorType = "unsupported"
	ErrorTypeSerialization    ErrorType = "serialization"
	ErrorTypeDatabase         ErrorType = "database"
	ErrorTypeInternal         ErrorType = "internal"
)
