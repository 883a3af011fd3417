package repobun

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lemmego/repokit"
	"github.com/uptrace/bun"
)

// =====================================
// Filter Translation
// =====================================

// whereClause is one compiled WHERE fragment plus its bind arguments
type whereClause struct {
	sql  string
	args []interface{}
}

// buildModelWhere translates a filter model into WHERE fragments, one per
// top-level criteria (AND-combined when applied). Quantifiers and named
// specifications have no single-table SQL form and are rejected with
// ErrorTypeUnsupported; callers evaluate those in memory instead.
func buildModelWhere(t reflect.Type, model *repokit.FilterModel) ([]whereClause, error) {
	if model == nil || len(model.Filters) == 0 {
		return nil, nil
	}
	clauses := make([]whereClause, 0, len(model.Filters))
	for _, node := range model.Filters {
		clause, err := buildCriteriaSQL(t, node)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

func buildCriteriaSQL(t reflect.Type, node repokit.FilterCriteria) (whereClause, error) {
	switch node.CustomType {
	case repokit.CustomNamedSpecification, repokit.CustomCompositeSpecification:
		return whereClause{}, repokit.NewError(repokit.ErrorTypeUnsupported,
			"named specifications cannot be translated to SQL; evaluate them in memory")
	case repokit.CustomFullTextSearch:
		return buildFullTextSQL(t, node)
	}

	switch node.Operator {
	case repokit.OpAny, repokit.OpAll, repokit.OpNone:
		return whereClause{}, repokit.NewError(repokit.ErrorTypeUnsupported,
			fmt.Sprintf("%s quantifier on %q cannot be translated to single-table SQL", node.Operator, node.Field))
	}

	if node.Field == "" && len(node.Filters) > 0 {
		return buildGroupSQL(t, node)
	}

	return buildLeafSQL(t, node)
}

func buildGroupSQL(t reflect.Type, node repokit.FilterCriteria) (whereClause, error) {
	logic := node.Logic
	if logic == "" {
		logic = repokit.LogicAnd
	}
	var joiner string
	switch logic {
	case repokit.LogicAnd:
		joiner = " AND "
	case repokit.LogicOr:
		joiner = " OR "
	default:
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown logic operator %q", node.Logic))
	}

	parts := make([]string, 0, len(node.Filters))
	var args []interface{}
	for _, child := range node.Filters {
		clause, err := buildCriteriaSQL(t, child)
		if err != nil {
			return whereClause{}, err
		}
		parts = append(parts, clause.sql)
		args = append(args, clause.args...)
	}
	return whereClause{sql: "(" + strings.Join(parts, joiner) + ")", args: args}, nil
}

func buildFullTextSQL(t reflect.Type, node repokit.FilterCriteria) (whereClause, error) {
	if node.Field == "" {
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter, "full-text search requires a field")
	}
	search, ok := node.Value.(string)
	if !ok {
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("full-text search on %q requires a string value, got %T", node.Field, node.Value))
	}
	column, _, err := resolveColumn(t, node.Field)
	if err != nil {
		return whereClause{}, err
	}
	terms := strings.Fields(strings.ToLower(search))
	if len(terms) == 0 {
		return whereClause{sql: "1 = 1"}, nil
	}
	parts := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms))
	for _, term := range terms {
		parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE ?", column))
		args = append(args, "%"+escapeLike(term)+"%")
	}
	sql := strings.Join(parts, " AND ")
	if len(parts) > 1 {
		sql = "(" + sql + ")"
	}
	return whereClause{sql: sql, args: args}, nil
}

func buildLeafSQL(t reflect.Type, node repokit.FilterCriteria) (whereClause, error) {
	if node.Field == "" {
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter, "filter criteria requires a field")
	}
	if len(node.Filters) > 0 {
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("criteria on %q has both a value and child filters", node.Field))
	}
	column, _, err := resolveColumn(t, node.Field)
	if err != nil {
		return whereClause{}, err
	}

	op := node.Operator
	if op == "" {
		op = repokit.OpEqual
	}
	value := node.Value

	switch op {
	case repokit.OpEqual:
		return whereClause{sql: column + " = ?", args: []interface{}{value}}, nil
	case repokit.OpNotEqual:
		return whereClause{sql: column + " <> ?", args: []interface{}{value}}, nil
	case repokit.OpGreaterThan:
		return whereClause{sql: column + " > ?", args: []interface{}{value}}, nil
	case repokit.OpGreaterThanOrEqual:
		return whereClause{sql: column + " >= ?", args: []interface{}{value}}, nil
	case repokit.OpLessThan:
		return whereClause{sql: column + " < ?", args: []interface{}{value}}, nil
	case repokit.OpLessThanOrEqual:
		return whereClause{sql: column + " <= ?", args: []interface{}{value}}, nil
	case repokit.OpContains, repokit.OpNotContains,
		repokit.OpStartsWith, repokit.OpNotStartsWith,
		repokit.OpEndsWith, repokit.OpNotEndsWith:
		return buildStringSQL(column, op, value, node.CaseSensitive)
	case repokit.OpIsNull:
		return whereClause{sql: column + " IS NULL"}, nil
	case repokit.OpIsNotNull:
		return whereClause{sql: column + " IS NOT NULL"}, nil
	case repokit.OpIsEmpty:
		return whereClause{sql: "(" + column + " IS NULL OR " + column + " = '')"}, nil
	case repokit.OpIsNotEmpty:
		return whereClause{sql: "(" + column + " IS NOT NULL AND " + column + " <> '')"}, nil
	case repokit.OpIn:
		members, err := memberList(op, node.Field, value)
		if err != nil {
			return whereClause{}, err
		}
		return whereClause{sql: column + " IN (?)", args: []interface{}{bun.In(members)}}, nil
	case repokit.OpNotIn:
		members, err := memberList(op, node.Field, value)
		if err != nil {
			return whereClause{}, err
		}
		return whereClause{sql: column + " NOT IN (?)", args: []interface{}{bun.In(members)}}, nil
	default:
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown operator %q on field %q", op, node.Field))
	}
}

func buildStringSQL(column string, op repokit.Operator, value interface{}, caseSensitive bool) (whereClause, error) {
	search, ok := value.(string)
	if !ok {
		return whereClause{}, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q requires a string value, got %T", op, value))
	}

	pattern := escapeLike(search)
	switch op {
	case repokit.OpContains, repokit.OpNotContains:
		pattern = "%" + pattern + "%"
	case repokit.OpStartsWith, repokit.OpNotStartsWith:
		pattern = pattern + "%"
	default:
		pattern = "%" + pattern
	}

	expr := column
	if !caseSensitive {
		expr = "LOWER(" + column + ")"
		pattern = strings.ToLower(pattern)
	}

	negate := op == repokit.OpNotContains || op == repokit.OpNotStartsWith || op == repokit.OpNotEndsWith
	if negate {
		return whereClause{sql: expr + " NOT LIKE ?", args: []interface{}{pattern}}, nil
	}
	return whereClause{sql: expr + " LIKE ?", args: []interface{}{pattern}}, nil
}

// escapeLike escapes LIKE wildcards so filter values match literally
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func memberList(op repokit.Operator, field string, value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q on %q requires a list value", op, field))
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q on %q requires a list value, got %T", op, field, value))
	}
	members := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		members[i] = rv.Index(i).Interface()
	}
	return members, nil
}

// =====================================
// Column Resolution
// =====================================

// resolveColumn validates a field name against the entity type and returns
// the column Bun maps it to (bun tag when present, snake_case otherwise).
// Dotted paths would require joins, which a single-table repository cannot
// express.
func resolveColumn(t reflect.Type, path string) (string, reflect.Type, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if strings.Contains(path, ".") {
		return "", nil, repokit.NewError(repokit.ErrorTypeUnsupported,
			fmt.Sprintf("nested field path %q cannot be translated to single-table SQL", path))
	}
	sf, ok := fieldByNameFold(t, path)
	if !ok {
		return "", nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("field %q not found on %v", path, t))
	}
	column := columnName(sf)
	if column == "" {
		return "", nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("field %q is not persisted", path))
	}
	return column, sf.Type, nil
}

func columnName(sf reflect.StructField) string {
	tag := sf.Tag.Get("bun")
	if tag != "" {
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return toSnakeCase(sf.Name)
}

func toSnakeCase(str string) string {
	var result strings.Builder
	for i, r := range str {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

func fieldByNameFold(t reflect.Type, name string) (reflect.StructField, bool) {
	if sf, ok := t.FieldByName(name); ok && sf.IsExported() {
		return sf, true
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.IsExported() && strings.EqualFold(sf.Name, name) {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

// =====================================
// Ordering
// =====================================

// buildOrderExprs validates orderings and returns ORDER BY expressions
func buildOrderExprs(t reflect.Type, orderings []repokit.FilterOrderCriteria) ([]string, error) {
	exprs := make([]string, 0, len(orderings))
	for _, ordering := range orderings {
		if ordering.Field == "" {
			return nil, repokit.NewError(repokit.ErrorTypeInvalidOrder, "ordering requires a field")
		}
		column, _, err := resolveColumn(t, ordering.Field)
		if err != nil {
			return nil, repokit.NewError(repokit.ErrorTypeInvalidOrder, err.Error())
		}
		direction := "ASC"
		if ordering.Direction == repokit.OrderDesc {
			direction = "DESC"
		}
		exprs = append(exprs, column+" "+direction)
	}
	return exprs, nil
}
