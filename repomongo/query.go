package repomongo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/lemmego/repokit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =====================================
// Filter Translation
// =====================================

// buildModelFilter translates a filter model into a MongoDB filter document.
// Top-level criteria AND-combine; groups honor their logic operator; Any/All/
// None quantifiers become $elemMatch shapes. Named and composite
// specifications are plain Go functions with no document form, so they are
// rejected with ErrorTypeUnsupported.
func buildModelFilter(t reflect.Type, model *repokit.FilterModel) (bson.M, error) {
	if model == nil || len(model.Filters) == 0 {
		return bson.M{}, nil
	}
	return buildCriteriaList(t, model.Filters, repokit.LogicAnd, true)
}

func buildCriteriaList(t reflect.Type, criteria []repokit.FilterCriteria, logic repokit.LogicOperator, root bool) (bson.M, error) {
	if len(criteria) == 1 {
		return buildCriteria(t, criteria[0], root)
	}
	filters := make([]bson.M, 0, len(criteria))
	for _, node := range criteria {
		filter, err := buildCriteria(t, node, root)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	switch logic {
	case repokit.LogicOr:
		return bson.M{"$or": filters}, nil
	case repokit.LogicAnd, "":
		return bson.M{"$and": filters}, nil
	default:
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown logic operator %q", logic))
	}
}

func buildCriteria(t reflect.Type, node repokit.FilterCriteria, root bool) (bson.M, error) {
	switch node.CustomType {
	case repokit.CustomNamedSpecification, repokit.CustomCompositeSpecification:
		return nil, repokit.NewError(repokit.ErrorTypeUnsupported,
			"named specifications cannot be translated to MongoDB filters; evaluate them in memory")
	case repokit.CustomFullTextSearch:
		return buildFullText(t, node)
	}

	switch node.Operator {
	case repokit.OpAny, repokit.OpAll, repokit.OpNone:
		return buildQuantifier(t, node)
	}

	if node.Field == "" && len(node.Filters) > 0 {
		logic := node.Logic
		if logic == "" {
			logic = repokit.LogicAnd
		}
		return buildCriteriaList(t, node.Filters, logic, root)
	}

	return buildLeaf(t, node, root)
}

func buildQuantifier(t reflect.Type, node repokit.FilterCriteria) (bson.M, error) {
	if node.Field == "" {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("%s quantifier requires a field", node.Operator))
	}
	if len(node.Filters) == 0 {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("%s quantifier on %q requires child filters", node.Operator, node.Field))
	}
	field, leaf, err := resolvePath(t, node.Field, false)
	if err != nil {
		return nil, err
	}
	if leaf.Kind() != reflect.Slice && leaf.Kind() != reflect.Array {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("%s quantifier requires a collection-valued field, %q is %v", node.Operator, node.Field, leaf))
	}
	elemType := leaf.Elem()
	for elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}

	child, err := buildCriteriaList(elemType, node.Filters, repokit.LogicAnd, false)
	if err != nil {
		return nil, err
	}

	switch node.Operator {
	case repokit.OpAny:
		return bson.M{field: bson.M{"$elemMatch": child}}, nil
	case repokit.OpNone:
		return bson.M{field: bson.M{"$not": bson.M{"$elemMatch": child}}}, nil
	default: // OpAll: no element may violate the child filter
		return bson.M{field: bson.M{"$not": bson.M{"$elemMatch": bson.M{"$nor": []bson.M{child}}}}}, nil
	}
}

func buildFullText(t reflect.Type, node repokit.FilterCriteria) (bson.M, error) {
	if node.Field == "" {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter, "full-text search requires a field")
	}
	search, ok := node.Value.(string)
	if !ok {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("full-text search on %q requires a string value, got %T", node.Field, node.Value))
	}
	field, _, err := resolvePath(t, node.Field, false)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(search)
	if len(terms) == 0 {
		return bson.M{}, nil
	}
	filters := make([]bson.M, 0, len(terms))
	for _, term := range terms {
		filters = append(filters, bson.M{field: bson.M{"$regex": regexp.QuoteMeta(term), "$options": "i"}})
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return bson.M{"$and": filters}, nil
}

func buildLeaf(t reflect.Type, node repokit.FilterCriteria, root bool) (bson.M, error) {
	if node.Field == "" {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter, "filter criteria requires a field")
	}
	if len(node.Filters) > 0 {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("criteria on %q has both a value and child filters", node.Field))
	}
	field, _, err := resolvePath(t, node.Field, root)
	if err != nil {
		return nil, err
	}

	op := node.Operator
	if op == "" {
		op = repokit.OpEqual
	}
	value := node.Value

	switch op {
	case repokit.OpEqual:
		return bson.M{field: value}, nil
	case repokit.OpNotEqual:
		return bson.M{field: bson.M{"$ne": value}}, nil
	case repokit.OpGreaterThan:
		return bson.M{field: bson.M{"$gt": value}}, nil
	case repokit.OpGreaterThanOrEqual:
		return bson.M{field: bson.M{"$gte": value}}, nil
	case repokit.OpLessThan:
		return bson.M{field: bson.M{"$lt": value}}, nil
	case repokit.OpLessThanOrEqual:
		return bson.M{field: bson.M{"$lte": value}}, nil
	case repokit.OpContains, repokit.OpNotContains,
		repokit.OpStartsWith, repokit.OpNotStartsWith,
		repokit.OpEndsWith, repokit.OpNotEndsWith:
		return buildStringOperator(field, op, value, node.CaseSensitive)
	case repokit.OpIsNull:
		return bson.M{field: nil}, nil
	case repokit.OpIsNotNull:
		return bson.M{field: bson.M{"$ne": nil}}, nil
	case repokit.OpIsEmpty:
		return bson.M{"$or": []bson.M{
			{field: ""},
			{field: bson.M{"$size": 0}},
			{field: nil},
		}}, nil
	case repokit.OpIsNotEmpty:
		return bson.M{"$nor": []bson.M{
			{field: ""},
			{field: bson.M{"$size": 0}},
			{field: nil},
		}}, nil
	case repokit.OpIn:
		members, err := memberList(op, node.Field, value)
		if err != nil {
			return nil, err
		}
		return bson.M{field: bson.M{"$in": members}}, nil
	case repokit.OpNotIn:
		members, err := memberList(op, node.Field, value)
		if err != nil {
			return nil, err
		}
		return bson.M{field: bson.M{"$nin": members}}, nil
	default:
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("unknown operator %q on field %q", op, node.Field))
	}
}

func buildStringOperator(field string, op repokit.Operator, value interface{}, caseSensitive bool) (bson.M, error) {
	search, ok := value.(string)
	if !ok {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
			fmt.Sprintf("operator %q requires a string value, got %T", op, value))
	}
	pattern := regexp.QuoteMeta(search)
	switch op {
	case repokit.OpStartsWith, repokit.OpNotStartsWith:
		pattern = "^" + pattern
	case repokit.OpEndsWith, repokit.OpNotEndsWith:
		pattern = pattern + "$"
	}
	regex := bson.M{"$regex": pattern}
	if !caseSensitive {
		regex["$options"] = "i"
	}
	switch op {
	case repokit.OpNotContains, repokit.OpNotStartsWith, repokit.OpNotEndsWith:
		return bson.M{field: bson.M{"$not": regex}}, nil
	default:
		return bson.M{field: regex}, nil
	}
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
// Field Path Resolution
// =====================================

// resolvePath validates a dotted field path against the entity type and
// returns the BSON path the driver stores those fields under (bson tag when
// present, lowercased field name otherwise). The root id field maps to _id.
func resolvePath(t reflect.Type, path string, root bool) (string, reflect.Type, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	segments := strings.Split(path, ".")
	parts := make([]string, 0, len(segments))
	current := t
	for i, segment := range segments {
		for current.Kind() == reflect.Ptr {
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return "", nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
				fmt.Sprintf("field path %q: segment %q is not addressable on %v", path, segment, current))
		}
		sf, ok := fieldByNameFold(current, segment)
		if !ok {
			return "", nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
				fmt.Sprintf("field %q not found on %v (path %q)", segment, current, path))
		}
		name := bsonFieldName(sf)
		if name == "" {
			return "", nil, repokit.NewError(repokit.ErrorTypeInvalidFilter,
				fmt.Sprintf("field %q is not persisted (path %q)", segment, path))
		}
		if root && i == 0 && (sf.Name == "ID" || sf.Name == "Id") {
			name = "_id"
		}
		parts = append(parts, name)
		current = sf.Type
	}
	return strings.Join(parts, "."), current, nil
}

func bsonFieldName(sf reflect.StructField) string {
	tag := sf.Tag.Get("bson")
	if tag == "" {
		return strings.ToLower(sf.Name)
	}
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return strings.ToLower(sf.Name)
	}
	return name
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
// Ordering and Paging
// =====================================

func buildFindOptions(t reflect.Type, orderings []repokit.FilterOrderCriteria, skip, take *int) (*options.FindOptions, error) {
	findOpts := options.Find()
	if len(orderings) > 0 {
		sort := bson.D{}
		for _, ordering := range orderings {
			if ordering.Field == "" {
				return nil, repokit.NewError(repokit.ErrorTypeInvalidOrder, "ordering requires a field")
			}
			field, _, err := resolvePath(t, ordering.Field, true)
			if err != nil {
				return nil, repokit.NewError(repokit.ErrorTypeInvalidOrder, err.Error())
			}
			direction := 1
			if ordering.Direction == repokit.OrderDesc {
				direction = -1
			}
			sort = append(sort, bson.E{Key: field, Value: direction})
		}
		findOpts.SetSort(sort)
	}
	if skip != nil && *skip > 0 {
		findOpts.SetSkip(int64(*skip))
	}
	if take != nil && *take >= 0 {
		findOpts.SetLimit(int64(*take))
	}
	return findOpts, nil
}
