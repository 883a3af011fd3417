package repokit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// userRecord is the stored shape; user is the domain shape over it
type userRecord struct {
	ID    int
	Name  string
	Email string
	Age   int
}

type user struct {
	ID          int
	DisplayName string
	Email       string
	Age         int
}

func userMapper() FuncEntityMapper[user, userRecord] {
	return FuncEntityMapper[user, userRecord]{
		MapToDocument: func(u *user) (*userRecord, error) {
			return &userRecord{ID: u.ID, Name: u.DisplayName, Email: u.Email, Age: u.Age}, nil
		},
		MapToEntity: func(rec *userRecord) (*user, error) {
			return &user{ID: rec.ID, DisplayName: rec.Name, Email: rec.Email, Age: rec.Age}, nil
		},
	}
}

func newUserRepository(t *testing.T, records ...*userRecord) *MappedRepository[user, userRecord] {
	t.Helper()
	inner, err := NewMemoryRepository(
		WithMemoryContext(NewMemoryContext(records...)),
	)
	if err != nil {
		t.Fatalf("NewMemoryRepository failed: %v", err)
	}
	return NewMappedRepository[user, userRecord](inner, userMapper())
}

func seedUserRecords(n int) []*userRecord {
	records := make([]*userRecord, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, &userRecord{
			ID:    i,
			Name:  fmt.Sprintf("User%02d", i),
			Email: fmt.Sprintf("user%02d@example.com", i),
			Age:   20 + i,
		})
	}
	return records
}

func TestMappedRoundTrip(t *testing.T) {
	repo := newUserRepository(t)
	ctx := context.Background()

	persisted, action, err := repo.Upsert(ctx, &user{DisplayName: "John", Email: "john@example.com"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if action != ActionInserted {
		t.Errorf("Expected action inserted, got %s", action)
	}
	if persisted.ID == 0 {
		t.Error("Expected a generated id to flow back through the mapping")
	}

	found, err := repo.FindOneByID(ctx, persisted.ID)
	if err != nil {
		t.Fatalf("FindOneByID failed: %v", err)
	}
	if found == nil || found.DisplayName != "John" {
		t.Errorf("Expected mapped entity John, got %+v", found)
	}
}

func TestMappedFilterResolvesAgainstDocument(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(3)...)

	// "Name" is a document field; the entity calls it DisplayName
	model := NewFilterBuilder().Where("Name", OpEqual, "User02").Build()
	items, err := repo.FindAll(context.Background(), WithFilter[user](model))
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(items) != 1 || items[0].DisplayName != "User02" {
		t.Errorf("Expected User02, got %+v", items)
	}
}

func TestMappedSpecificationAppliesAfterMapping(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(5)...)

	spec := NewSpecification(func(u *user) bool {
		return strings.HasSuffix(u.DisplayName, "3") || strings.HasSuffix(u.DisplayName, "4")
	})
	items, err := repo.FindAll(context.Background(), WithSpecification(spec))
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 matches, got %d", len(items))
	}
}

func TestMappedSpecificationWithPaging(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(10)...)

	// Ages 21..30; the spec keeps 26..30, paging takes the middle of those
	spec := NewSpecification(func(u *user) bool { return u.Age > 25 })
	items, err := repo.FindAll(context.Background(),
		WithSpecification(spec),
		WithOrdering[user]("Age", OrderAsc),
		WithSkip[user](1),
		WithTake[user](2),
	)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(items) != 2 || items[0].Age != 27 || items[1].Age != 28 {
		t.Errorf("Expected ages [27 28], got %+v", items)
	}
}

func TestMappedFindOneWithSpecification(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(5)...)

	spec := NewSpecification(func(u *user) bool { return u.Age >= 24 })
	found, err := repo.FindOne(context.Background(),
		WithSpecification(spec),
		WithOrdering[user]("Age", OrderAsc),
	)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if found == nil || found.Age != 24 {
		t.Errorf("Expected youngest match age 24, got %+v", found)
	}
}

func TestMappedCountWithSpecification(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(10)...)

	spec := NewSpecification(func(u *user) bool { return u.Age > 25 })
	count, err := repo.Count(context.Background(), WithSpecification(spec))
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 matches, got %d", count)
	}
}

func TestMappedFindAllPaged(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(10)...)

	model := NewFilterBuilder().OrderBy("ID", OrderAsc).Page(2).PageSize(4).Build()
	page, err := repo.FindAllPaged(context.Background(), model)
	if err != nil {
		t.Fatalf("FindAllPaged failed: %v", err)
	}
	if len(page.Items) != 4 || page.Items[0].ID != 5 {
		t.Errorf("Expected ids 5..8 on page 2, got %+v", page.Items)
	}
	if page.TotalCount != 10 {
		t.Errorf("Expected total count 10, got %d", page.TotalCount)
	}
}

func TestMappedDelete(t *testing.T) {
	repo := newUserRepository(t, seedUserRecords(3)...)
	ctx := context.Background()

	action, err := repo.DeleteByID(ctx, 2)
	if err != nil || action != ActionDeleted {
		t.Fatalf("Expected delete to succeed, got %s/%v", action, err)
	}
	exists, err := repo.Exists(ctx, 2)
	if err != nil || exists {
		t.Errorf("Expected id 2 gone, got %v/%v", exists, err)
	}
}

func TestMappedMappingFailure(t *testing.T) {
	inner, err := NewMemoryRepository(
		WithMemoryContext(NewMemoryContext(seedUserRecords(1)...)),
	)
	if err != nil {
		t.Fatalf("NewMemoryRepository failed: %v", err)
	}
	broken := FuncEntityMapper[user, userRecord]{
		MapToDocument: func(u *user) (*userRecord, error) {
			return nil, errors.New("cannot map")
		},
		MapToEntity: func(rec *userRecord) (*user, error) {
			return nil, errors.New("cannot map")
		},
	}
	repo := NewMappedRepository[user, userRecord](inner, broken)

	_, err = repo.FindOneByID(context.Background(), 1)
	if err == nil {
		t.Fatal("Expected mapping failure to surface")
	}
	if !IsErrorType(err, ErrorTypeSerialization) {
		t.Errorf("Expected serialization error, got %v", err)
	}

	_, _, err = repo.Upsert(context.Background(), &user{DisplayName: "X"})
	if err == nil {
		t.Fatal("Expected mapping failure on write")
	}
	if !IsErrorType(err, ErrorTypeSerialization) {
		t.Errorf("Expected serialization error, got %v", err)
	}
}
