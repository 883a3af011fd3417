package repomongo

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lemmego/repokit"
)

type mongoOrder struct {
	Total  float64 `bson:"total_amount"`
	Status string
}

type mongoAddress struct {
	City string
}

type mongoCustomer struct {
	ID      string
	Name    string
	Email   string `bson:"email_address"`
	Age     int
	Secret  string `bson:"-"`
	Orders  []mongoOrder
	Address *mongoAddress
}

var customerType = reflect.TypeOf(mongoCustomer{})

func buildFilter(t *testing.T, criteria ...repokit.FilterCriteria) bson.M {
	t.Helper()
	filter, err := buildModelFilter(customerType, &repokit.FilterModel{Filters: criteria})
	require.NoError(t, err)
	return filter
}

func TestBuildModelFilterEmpty(t *testing.T) {
	filter, err := buildModelFilter(customerType, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, filter)

	filter, err = buildModelFilter(customerType, &repokit.FilterModel{})
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, filter)
}

func TestBuildLeafOperators(t *testing.T) {
	tests := []struct {
		name     string
		criteria repokit.FilterCriteria
		want     bson.M
	}{
		{
			"equal",
			repokit.Criteria("Name", repokit.OpEqual, "John"),
			bson.M{"name": "John"},
		},
		{
			"default operator is equality",
			repokit.FilterCriteria{Field: "Name", Value: "John"},
			bson.M{"name": "John"},
		},
		{
			"not equal",
			repokit.Criteria("Age", repokit.OpNotEqual, 30),
			bson.M{"age": bson.M{"$ne": 30}},
		},
		{
			"greater than",
			repokit.Criteria("Age", repokit.OpGreaterThan, 18),
			bson.M{"age": bson.M{"$gt": 18}},
		},
		{
			"greater or equal",
			repokit.Criteria("Age", repokit.OpGreaterThanOrEqual, 18),
			bson.M{"age": bson.M{"$gte": 18}},
		},
		{
			"less than",
			repokit.Criteria("Age", repokit.OpLessThan, 18),
			bson.M{"age": bson.M{"$lt": 18}},
		},
		{
			"less or equal",
			repokit.Criteria("Age", repokit.OpLessThanOrEqual, 18),
			bson.M{"age": bson.M{"$lte": 18}},
		},
		{
			"is null",
			repokit.FilterCriteria{Field: "Address", Operator: repokit.OpIsNull},
			bson.M{"address": nil},
		},
		{
			"is not null",
			repokit.FilterCriteria{Field: "Address", Operator: repokit.OpIsNotNull},
			bson.M{"address": bson.M{"$ne": nil}},
		},
		{
			"in",
			repokit.Criteria("Name", repokit.OpIn, []interface{}{"John", "Jane"}),
			bson.M{"name": bson.M{"$in": []interface{}{"John", "Jane"}}},
		},
		{
			"not in",
			repokit.Criteria("Name", repokit.OpNotIn, []interface{}{"John"}),
			bson.M{"name": bson.M{"$nin": []interface{}{"John"}}},
		},
		{
			"is empty",
			repokit.FilterCriteria{Field: "Orders", Operator: repokit.OpIsEmpty},
			bson.M{"$or": []bson.M{
				{"orders": ""},
				{"orders": bson.M{"$size": 0}},
				{"orders": nil},
			}},
		},
		{
			"is not empty",
			repokit.FilterCriteria{Field: "Orders", Operator: repokit.OpIsNotEmpty},
			bson.M{"$nor": []bson.M{
				{"orders": ""},
				{"orders": bson.M{"$size": 0}},
				{"orders": nil},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFilter(t, tt.criteria))
		})
	}
}

func TestBuildStringOperators(t *testing.T) {
	tests := []struct {
		name     string
		criteria repokit.FilterCriteria
		want     bson.M
	}{
		{
			"contains is case-insensitive by default",
			repokit.Criteria("Name", repokit.OpContains, "Jo"),
			bson.M{"name": bson.M{"$regex": "Jo", "$options": "i"}},
		},
		{
			"case sensitive contains",
			repokit.FilterCriteria{Field: "Name", Operator: repokit.OpContains, Value: "Jo", CaseSensitive: true},
			bson.M{"name": bson.M{"$regex": "Jo"}},
		},
		{
			"starts with anchors the pattern",
			repokit.Criteria("Name", repokit.OpStartsWith, "Jo"),
			bson.M{"name": bson.M{"$regex": "^Jo", "$options": "i"}},
		},
		{
			"ends with anchors the pattern",
			repokit.Criteria("Name", repokit.OpEndsWith, "hn"),
			bson.M{"name": bson.M{"$regex": "hn$", "$options": "i"}},
		},
		{
			"not contains negates the regex",
			repokit.Criteria("Name", repokit.OpNotContains, "Jo"),
			bson.M{"name": bson.M{"$not": bson.M{"$regex": "Jo", "$options": "i"}}},
		},
		{
			"regex metacharacters are escaped",
			repokit.Criteria("Email", repokit.OpContains, "a.b+c"),
			bson.M{"email_address": bson.M{"$regex": `a\.b\+c`, "$options": "i"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFilter(t, tt.criteria))
		})
	}
}

func TestBuildStringOperatorRequiresString(t *testing.T) {
	_, err := buildModelFilter(customerType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{repokit.Criteria("Name", repokit.OpContains, 42)},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err))
}

func TestBuildFieldMapping(t *testing.T) {
	// Root id maps to _id
	assert.Equal(t, bson.M{"_id": "abc"},
		buildFilter(t, repokit.Criteria("ID", repokit.OpEqual, "abc")))

	// bson tags win over lowercased names
	assert.Equal(t, bson.M{"email_address": "a@b.c"},
		buildFilter(t, repokit.Criteria("Email", repokit.OpEqual, "a@b.c")))

	// Dotted paths join the per-segment names
	assert.Equal(t, bson.M{"address.city": "Boston"},
		buildFilter(t, repokit.Criteria("Address.City", repokit.OpEqual, "Boston")))
}

func TestBuildFieldMappingErrors(t *testing.T) {
	_, err := buildModelFilter(customerType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{repokit.Criteria("Secret", repokit.OpEqual, "x")},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err), "bson:\"-\" fields are not persisted")

	_, err = buildModelFilter(customerType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{repokit.Criteria("NoSuchField", repokit.OpEqual, "x")},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err))
}

func TestBuildGroups(t *testing.T) {
	group := repokit.FilterCriteria{
		Logic: repokit.LogicOr,
		Filters: []repokit.FilterCriteria{
			repokit.Criteria("Name", repokit.OpEqual, "John"),
			repokit.Criteria("Age", repokit.OpLessThan, 18),
		},
	}
	assert.Equal(t, bson.M{"$or": []bson.M{
		{"name": "John"},
		{"age": bson.M{"$lt": 18}},
	}}, buildFilter(t, group))

	// Multiple top-level criteria AND-combine
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"name": "John"},
		{"age": bson.M{"$gt": 18}},
	}}, buildFilter(t,
		repokit.Criteria("Name", repokit.OpEqual, "John"),
		repokit.Criteria("Age", repokit.OpGreaterThan, 18),
	))
}

func TestBuildQuantifiers(t *testing.T) {
	child := repokit.Criteria("Total", repokit.OpGreaterThan, 100)

	anyOf := repokit.FilterCriteria{Field: "Orders", Operator: repokit.OpAny,
		Filters: []repokit.FilterCriteria{child}}
	assert.Equal(t, bson.M{"orders": bson.M{
		"$elemMatch": bson.M{"total_amount": bson.M{"$gt": 100}},
	}}, buildFilter(t, anyOf))

	noneOf := repokit.FilterCriteria{Field: "Orders", Operator: repokit.OpNone,
		Filters: []repokit.FilterCriteria{child}}
	assert.Equal(t, bson.M{"orders": bson.M{
		"$not": bson.M{"$elemMatch": bson.M{"total_amount": bson.M{"$gt": 100}}},
	}}, buildFilter(t, noneOf))

	// All: no element may violate the child filter
	allOf := repokit.FilterCriteria{Field: "Orders", Operator: repokit.OpAll,
		Filters: []repokit.FilterCriteria{child}}
	assert.Equal(t, bson.M{"orders": bson.M{
		"$not": bson.M{"$elemMatch": bson.M{
			"$nor": []bson.M{{"total_amount": bson.M{"$gt": 100}}},
		}},
	}}, buildFilter(t, allOf))
}

func TestBuildQuantifierErrors(t *testing.T) {
	_, err := buildModelFilter(customerType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{{
			Field:    "Name",
			Operator: repokit.OpAny,
			Filters:  []repokit.FilterCriteria{repokit.Criteria("Total", repokit.OpGreaterThan, 1)},
		}},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err), "quantifier on scalar field")

	_, err = buildModelFilter(customerType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{{Field: "Orders", Operator: repokit.OpAny}},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err), "quantifier without child filters")
}

func TestBuildFullText(t *testing.T) {
	full := repokit.FilterCriteria{
		Field:      "Name",
		CustomType: repokit.CustomFullTextSearch,
		Value:      "john doe",
	}
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"name": bson.M{"$regex": "john", "$options": "i"}},
		{"name": bson.M{"$regex": "doe", "$options": "i"}},
	}}, buildFilter(t, full))

	single := repokit.FilterCriteria{
		Field:      "Name",
		CustomType: repokit.CustomFullTextSearch,
		Value:      "john",
	}
	assert.Equal(t, bson.M{"name": bson.M{"$regex": "john", "$options": "i"}},
		buildFilter(t, single))
}

func TestBuildNamedSpecificationUnsupported(t *testing.T) {
	_, err := buildModelFilter(customerType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{{
			CustomType:        repokit.CustomNamedSpecification,
			SpecificationName: "IsAdult",
		}},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsUnsupported(err))
}

func TestBuildFindOptions(t *testing.T) {
	skip, take := 10, 5
	findOpts, err := buildFindOptions(customerType, []repokit.FilterOrderCriteria{
		{Field: "Age", Direction: repokit.OrderDesc},
		{Field: "Name"},
	}, &skip, &take)
	require.NoError(t, err)

	assert.Equal(t, bson.D{
		{Key: "age", Value: -1},
		{Key: "name", Value: 1},
	}, findOpts.Sort)
	require.NotNil(t, findOpts.Skip)
	assert.Equal(t, int64(10), *findOpts.Skip)
	require.NotNil(t, findOpts.Limit)
	assert.Equal(t, int64(5), *findOpts.Limit)
}

func TestBuildFindOptionsUnknownField(t *testing.T) {
	_, err := buildFindOptions(customerType, []repokit.FilterOrderCriteria{
		{Field: "NoSuchField"},
	}, nil, nil)
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidOrder(err))
}
