package repokit

import "testing"

func orderedIDs(t *testing.T, people []*testPerson, orderings ...FilterOrderCriteria) []int {
	t.Helper()
	orderer, err := NewOrderer[testPerson](orderings...)
	if err != nil {
		t.Fatalf("NewOrderer failed: %v", err)
	}
	sorted := make([]*testPerson, len(people))
	copy(sorted, people)
	orderer.Sort(sorted)
	ids := make([]int, 0, len(sorted))
	for _, p := range sorted {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestOrdererSingleKey(t *testing.T) {
	people := testPeople()

	got := orderedIDs(t, people, FilterOrderCriteria{Field: "Age"})
	if !equalIntSlices(got, []int{3, 2, 1}) {
		t.Errorf("Expected ids [3 2 1] by age ascending, got %v", got)
	}

	got = orderedIDs(t, people, FilterOrderCriteria{Field: "Age", Direction: OrderDesc})
	if !equalIntSlices(got, []int{1, 2, 3}) {
		t.Errorf("Expected ids [1 2 3] by age descending, got %v", got)
	}
}

func TestOrdererDefaultDirectionIsAscending(t *testing.T) {
	got := orderedIDs(t, testPeople(), FilterOrderCriteria{Field: "Name"})
	if !equalIntSlices(got, []int{3, 2, 1}) {
		t.Errorf("Expected ids [3 2 1] by name, got %v", got)
	}
}

func TestOrdererMultiKey(t *testing.T) {
	people := []*testPerson{
		{ID: 1, Name: "B", Age: 30},
		{ID: 2, Name: "A", Age: 30},
		{ID: 3, Name: "C", Age: 20},
	}
	// Primary key Age desc, ties broken by Name asc
	got := orderedIDs(t, people,
		FilterOrderCriteria{Field: "Age", Direction: OrderDesc},
		FilterOrderCriteria{Field: "Name"},
	)
	if !equalIntSlices(got, []int{2, 1, 3}) {
		t.Errorf("Expected ids [2 1 3], got %v", got)
	}
}

func TestOrdererIsStable(t *testing.T) {
	people := []*testPerson{
		{ID: 1, Age: 30},
		{ID: 2, Age: 30},
		{ID: 3, Age: 30},
	}
	got := orderedIDs(t, people, FilterOrderCriteria{Field: "Age"})
	if !equalIntSlices(got, []int{1, 2, 3}) {
		t.Errorf("Expected equal keys to keep input order, got %v", got)
	}
}

func TestOrdererNilsSortFirstAscending(t *testing.T) {
	nick := "zed"
	people := []*testPerson{
		{ID: 1, Nickname: &nick},
		{ID: 2},
	}
	got := orderedIDs(t, people, FilterOrderCriteria{Field: "Nickname"})
	if !equalIntSlices(got, []int{2, 1}) {
		t.Errorf("Expected nil nickname first ascending, got %v", got)
	}

	got = orderedIDs(t, people, FilterOrderCriteria{Field: "Nickname", Direction: OrderDesc})
	if !equalIntSlices(got, []int{1, 2}) {
		t.Errorf("Expected nil nickname last descending, got %v", got)
	}
}

func TestOrdererNestedPath(t *testing.T) {
	got := orderedIDs(t, testPeople()[:2], FilterOrderCriteria{Field: "Address.City"})
	if !equalIntSlices(got, []int{1, 2}) {
		t.Errorf("Expected ids [1 2] by city, got %v", got)
	}
}

func TestOrdererUnknownField(t *testing.T) {
	_, err := NewOrderer[testPerson](FilterOrderCriteria{Field: "NoSuchField"})
	if err == nil {
		t.Fatal("Expected error for unknown ordering field")
	}
	if !IsInvalidOrder(err) {
		t.Errorf("Expected invalid order error, got %v", err)
	}
}

func TestOrdererEmptyField(t *testing.T) {
	_, err := NewOrderer[testPerson](FilterOrderCriteria{})
	if err == nil {
		t.Fatal("Expected error for empty ordering field")
	}
	if !IsInvalidOrder(err) {
		t.Errorf("Expected invalid order error, got %v", err)
	}
}

func TestOrdererEmpty(t *testing.T) {
	orderer, err := NewOrderer[testPerson]()
	if err != nil {
		t.Fatalf("NewOrderer failed: %v", err)
	}
	if !orderer.Empty() {
		t.Error("Expected orderer with no keys to report Empty")
	}
}
