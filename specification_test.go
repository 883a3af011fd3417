package repokit

import "testing"

func TestSpecificationPredicate(t *testing.T) {
	adult := NewSpecification(func(p *testPerson) bool { return p.Age >= 18 })

	if !adult.IsSatisfiedBy(&testPerson{Age: 18}) {
		t.Error("Expected 18 year old to satisfy adult specification")
	}
	if adult.IsSatisfiedBy(&testPerson{Age: 17}) {
		t.Error("Expected 17 year old to not satisfy adult specification")
	}
}

func TestSpecificationAnd(t *testing.T) {
	adult := NewSpecification(func(p *testPerson) bool { return p.Age >= 18 })
	active := NewSpecification(func(p *testPerson) bool { return p.Active })

	both := And(adult, active)
	if !both.IsSatisfiedBy(&testPerson{Age: 30, Active: true}) {
		t.Error("Expected active adult to satisfy And")
	}
	if both.IsSatisfiedBy(&testPerson{Age: 30, Active: false}) {
		t.Error("Expected inactive adult to not satisfy And")
	}

	// And of nothing is always satisfied
	if !And[testPerson]().IsSatisfiedBy(&testPerson{}) {
		t.Error("Expected empty And to be satisfied")
	}
}

func TestSpecificationOr(t *testing.T) {
	adult := NewSpecification(func(p *testPerson) bool { return p.Age >= 18 })
	active := NewSpecification(func(p *testPerson) bool { return p.Active })

	either := Or(adult, active)
	if !either.IsSatisfiedBy(&testPerson{Age: 17, Active: true}) {
		t.Error("Expected active minor to satisfy Or")
	}
	if either.IsSatisfiedBy(&testPerson{Age: 17, Active: false}) {
		t.Error("Expected inactive minor to not satisfy Or")
	}

	// Or of nothing is never satisfied
	if Or[testPerson]().IsSatisfiedBy(&testPerson{Age: 99, Active: true}) {
		t.Error("Expected empty Or to not be satisfied")
	}
}

func TestSpecificationNot(t *testing.T) {
	adult := NewSpecification(func(p *testPerson) bool { return p.Age >= 18 })

	minor := Not(adult)
	if !minor.IsSatisfiedBy(&testPerson{Age: 17}) {
		t.Error("Expected 17 year old to satisfy Not(adult)")
	}
	if minor.IsSatisfiedBy(&testPerson{Age: 18}) {
		t.Error("Expected 18 year old to not satisfy Not(adult)")
	}
}

func TestSpecificationPredicateConversion(t *testing.T) {
	adult := NewSpecification(func(p *testPerson) bool { return p.Age >= 18 })
	predicate := Predicate(adult)

	if !predicate(&testPerson{Age: 18}) {
		t.Error("Expected predicate to match satisfying entity")
	}
	if predicate(&testPerson{Age: 17}) {
		t.Error("Expected predicate to reject non-satisfying entity")
	}
}

func TestSpecificationComposition(t *testing.T) {
	adult := NewSpecification(func(p *testPerson) bool { return p.Age >= 18 })
	active := NewSpecification(func(p *testPerson) bool { return p.Active })
	vip := NewSpecification(func(p *testPerson) bool {
		for _, tag := range p.Tags {
			if tag == "vip" {
				return true
			}
		}
		return false
	})

	// (adult AND active) OR (vip AND NOT adult)
	spec := Or(And(adult, active), And(vip, Not(adult)))

	if !spec.IsSatisfiedBy(&testPerson{Age: 30, Active: true}) {
		t.Error("Expected active adult to satisfy composition")
	}
	if !spec.IsSatisfiedBy(&testPerson{Age: 16, Tags: []string{"vip"}}) {
		t.Error("Expected vip minor to satisfy composition")
	}
	if spec.IsSatisfiedBy(&testPerson{Age: 16}) {
		t.Error("Expected plain minor to not satisfy composition")
	}
}
