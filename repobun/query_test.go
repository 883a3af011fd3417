package repobun

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/lemmego/repokit"
)

type bunAccount struct {
	ID        int64
	FullName  string
	Email     string `bun:"email_address"`
	Age       int
	Internal  string `bun:"-"`
	CreatedAt int64
}

var accountType = reflect.TypeOf(bunAccount{})

func buildWhere(t *testing.T, criteria ...repokit.FilterCriteria) []whereClause {
	t.Helper()
	clauses, err := buildModelWhere(accountType, &repokit.FilterModel{Filters: criteria})
	require.NoError(t, err)
	return clauses
}

func TestBuildModelWhereEmpty(t *testing.T) {
	clauses, err := buildModelWhere(accountType, nil)
	require.NoError(t, err)
	assert.Empty(t, clauses)

	clauses, err = buildModelWhere(accountType, &repokit.FilterModel{})
	require.NoError(t, err)
	assert.Empty(t, clauses)
}

func TestBuildLeafSQL(t *testing.T) {
	tests := []struct {
		name     string
		criteria repokit.FilterCriteria
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			"equal",
			repokit.Criteria("FullName", repokit.OpEqual, "John"),
			"full_name = ?",
			[]interface{}{"John"},
		},
		{
			"default operator is equality",
			repokit.FilterCriteria{Field: "Age", Value: 30},
			"age = ?",
			[]interface{}{30},
		},
		{
			"not equal",
			repokit.Criteria("Age", repokit.OpNotEqual, 30),
			"age <> ?",
			[]interface{}{30},
		},
		{
			"greater than",
			repokit.Criteria("Age", repokit.OpGreaterThan, 18),
			"age > ?",
			[]interface{}{18},
		},
		{
			"less or equal",
			repokit.Criteria("Age", repokit.OpLessThanOrEqual, 65),
			"age <= ?",
			[]interface{}{65},
		},
		{
			"is null",
			repokit.FilterCriteria{Field: "Email", Operator: repokit.OpIsNull},
			"email_address IS NULL",
			nil,
		},
		{
			"is not null",
			repokit.FilterCriteria{Field: "Email", Operator: repokit.OpIsNotNull},
			"email_address IS NOT NULL",
			nil,
		},
		{
			"is empty",
			repokit.FilterCriteria{Field: "Email", Operator: repokit.OpIsEmpty},
			"(email_address IS NULL OR email_address = '')",
			nil,
		},
		{
			"is not empty",
			repokit.FilterCriteria{Field: "Email", Operator: repokit.OpIsNotEmpty},
			"(email_address IS NOT NULL AND email_address <> '')",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clauses := buildWhere(t, tt.criteria)
			require.Len(t, clauses, 1)
			assert.Equal(t, tt.wantSQL, clauses[0].sql)
			assert.Equal(t, tt.wantArgs, clauses[0].args)
		})
	}
}

func TestBuildStringSQL(t *testing.T) {
	tests := []struct {
		name     string
		criteria repokit.FilterCriteria
		wantSQL  string
		wantArg  string
	}{
		{
			"contains lowercases by default",
			repokit.Criteria("FullName", repokit.OpContains, "Jo"),
			"LOWER(full_name) LIKE ?",
			"%jo%",
		},
		{
			"case sensitive contains",
			repokit.FilterCriteria{Field: "FullName", Operator: repokit.OpContains, Value: "Jo", CaseSensitive: true},
			"full_name LIKE ?",
			"%Jo%",
		},
		{
			"starts with",
			repokit.Criteria("FullName", repokit.OpStartsWith, "Jo"),
			"LOWER(full_name) LIKE ?",
			"jo%",
		},
		{
			"ends with",
			repokit.Criteria("FullName", repokit.OpEndsWith, "hn"),
			"LOWER(full_name) LIKE ?",
			"%hn",
		},
		{
			"not contains",
			repokit.Criteria("FullName", repokit.OpNotContains, "Jo"),
			"LOWER(full_name) NOT LIKE ?",
			"%jo%",
		},
		{
			"wildcards are escaped",
			repokit.Criteria("FullName", repokit.OpContains, "50%_off"),
			"LOWER(full_name) LIKE ?",
			`%50\%\_off%`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clauses := buildWhere(t, tt.criteria)
			require.Len(t, clauses, 1)
			assert.Equal(t, tt.wantSQL, clauses[0].sql)
			require.Len(t, clauses[0].args, 1)
			assert.Equal(t, tt.wantArg, clauses[0].args[0])
		})
	}
}

func TestBuildStringSQLRequiresString(t *testing.T) {
	_, err := buildModelWhere(accountType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{repokit.Criteria("FullName", repokit.OpContains, 42)},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err))
}

func TestBuildMembershipSQL(t *testing.T) {
	clauses := buildWhere(t, repokit.Criteria("FullName", repokit.OpIn, []interface{}{"John", "Jane"}))
	require.Len(t, clauses, 1)
	assert.Equal(t, "full_name IN (?)", clauses[0].sql)
	require.Len(t, clauses[0].args, 1)
	assert.Equal(t, bun.In([]interface{}{"John", "Jane"}), clauses[0].args[0])

	clauses = buildWhere(t, repokit.Criteria("FullName", repokit.OpNotIn, []interface{}{"John"}))
	require.Len(t, clauses, 1)
	assert.Equal(t, "full_name NOT IN (?)", clauses[0].sql)

	_, err := buildModelWhere(accountType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{repokit.Criteria("FullName", repokit.OpIn, "not-a-list")},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err))
}

func TestBuildGroupSQL(t *testing.T) {
	group := repokit.FilterCriteria{
		Logic: repokit.LogicOr,
		Filters: []repokit.FilterCriteria{
			repokit.Criteria("FullName", repokit.OpEqual, "John"),
			repokit.Criteria("Age", repokit.OpLessThan, 18),
		},
	}
	clauses := buildWhere(t, group)
	require.Len(t, clauses, 1)
	assert.Equal(t, "(full_name = ? OR age < ?)", clauses[0].sql)
	assert.Equal(t, []interface{}{"John", 18}, clauses[0].args)

	// Top-level criteria stay separate; the repository ANDs them
	clauses = buildWhere(t,
		repokit.Criteria("FullName", repokit.OpEqual, "John"),
		repokit.Criteria("Age", repokit.OpGreaterThan, 18),
	)
	require.Len(t, clauses, 2)
	assert.Equal(t, "full_name = ?", clauses[0].sql)
	assert.Equal(t, "age > ?", clauses[1].sql)
}

func TestBuildNestedGroupSQL(t *testing.T) {
	group := repokit.FilterCriteria{
		Logic: repokit.LogicAnd,
		Filters: []repokit.FilterCriteria{
			repokit.Criteria("Age", repokit.OpGreaterThanOrEqual, 18),
			{
				Logic: repokit.LogicOr,
				Filters: []repokit.FilterCriteria{
					repokit.Criteria("FullName", repokit.OpEqual, "John"),
					repokit.Criteria("FullName", repokit.OpEqual, "Jane"),
				},
			},
		},
	}
	clauses := buildWhere(t, group)
	require.Len(t, clauses, 1)
	assert.Equal(t, "(age >= ? AND (full_name = ? OR full_name = ?))", clauses[0].sql)
	assert.Equal(t, []interface{}{18, "John", "Jane"}, clauses[0].args)
}

func TestBuildFullTextSQL(t *testing.T) {
	full := repokit.FilterCriteria{
		Field:      "FullName",
		CustomType: repokit.CustomFullTextSearch,
		Value:      "John Doe",
	}
	clauses := buildWhere(t, full)
	require.Len(t, clauses, 1)
	assert.Equal(t, "(LOWER(full_name) LIKE ? AND LOWER(full_name) LIKE ?)", clauses[0].sql)
	assert.Equal(t, []interface{}{"%john%", "%doe%"}, clauses[0].args)
}

func TestBuildUnsupportedShapes(t *testing.T) {
	// Quantifiers need per-element matching, which single-table SQL lacks
	_, err := buildModelWhere(accountType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{{
			Field:    "FullName",
			Operator: repokit.OpAny,
			Filters:  []repokit.FilterCriteria{repokit.Criteria("Age", repokit.OpGreaterThan, 1)},
		}},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsUnsupported(err))

	// Named specifications are opaque predicates
	_, err = buildModelWhere(accountType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{{
			CustomType:        repokit.CustomNamedSpecification,
			SpecificationName: "IsAdult",
		}},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsUnsupported(err))

	// Dotted paths would require joins
	_, err = buildModelWhere(accountType, &repokit.FilterModel{
		Filters: []repokit.FilterCriteria{repokit.Criteria("Address.City", repokit.OpEqual, "Boston")},
	})
	require.Error(t, err)
	assert.True(t, repokit.IsUnsupported(err))
}

func TestResolveColumn(t *testing.T) {
	column, _, err := resolveColumn(accountType, "CreatedAt")
	require.NoError(t, err)
	assert.Equal(t, "created_at", column)

	column, _, err = resolveColumn(accountType, "Email")
	require.NoError(t, err)
	assert.Equal(t, "email_address", column, "bun tag wins over snake_case")

	// Lookup is case-insensitive
	column, _, err = resolveColumn(accountType, "fullname")
	require.NoError(t, err)
	assert.Equal(t, "full_name", column)

	_, _, err = resolveColumn(accountType, "Internal")
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err), `bun:"-" fields are not persisted`)

	_, _, err = resolveColumn(accountType, "NoSuchField")
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidFilter(err))
}

func TestBuildOrderExprs(t *testing.T) {
	exprs, err := buildOrderExprs(accountType, []repokit.FilterOrderCriteria{
		{Field: "Age", Direction: repokit.OrderDesc},
		{Field: "FullName"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"age DESC", "full_name ASC"}, exprs)

	_, err = buildOrderExprs(accountType, []repokit.FilterOrderCriteria{{Field: "NoSuchField"}})
	require.Error(t, err)
	assert.True(t, repokit.IsInvalidOrder(err))
}
