package workflow

import "testing"

func step(name string, deps ...string) *Step {
	return &Step{Name: name, URL: "/x", DependsOn: deps}
}

func TestResolveDependenciesNoDeps(t *testing.T) {
	steps := []*Step{step("a"), step("b"), step("c")}
	result, err := ResolveDependencies(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Order) != 3 {
		t.Fatalf("expected 3 in order, got %d", len(result.Order))
	}
	if len(result.Levels) != 1 || len(result.Levels[0]) != 3 {
		t.Fatalf("expected a single level of 3, got %v", result.Levels)
	}
}

func TestResolveDependenciesLinear(t *testing.T) {
	steps := []*Step{step("a"), step("b", "a"), step("c", "b")}
	result, err := ResolveDependencies(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 1, 2}
	for i, v := range want {
		if result.Order[i] != v {
			t.Fatalf("order mismatch: got %v want %v", result.Order, want)
		}
	}
	if len(result.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(result.Levels))
	}
}

func TestResolveDependenciesDiamond(t *testing.T) {
	steps := []*Step{step("a"), step("b", "a"), step("c", "a"), step("d", "b", "c")}
	result, err := ResolveDependencies(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Order[0] != 0 {
		t.Fatalf("expected a first, got index %d", result.Order[0])
	}
	if result.Order[3] != 3 {
		t.Fatalf("expected d last, got index %d", result.Order[3])
	}
	if len(result.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %v", result.Levels)
	}
	if len(result.Levels[1]) != 2 {
		t.Fatalf("expected level 1 to contain b and c, got %v", result.Levels[1])
	}
}

func TestResolveDependenciesCycle(t *testing.T) {
	steps := []*Step{step("a", "c"), step("b", "a"), step("c", "b")}
	_, err := ResolveDependencies(steps)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if ee, ok := err.(*EngineError); !ok || ee.Kind != KindDependency {
		t.Fatalf("expected dependency kind error, got %v", err)
	}
}

func TestResolveDependenciesMissing(t *testing.T) {
	steps := []*Step{step("a", "nonexistent")}
	_, err := ResolveDependencies(steps)
	if err == nil {
		t.Fatal("expected missing-dependency error")
	}
}

func TestResolveDependenciesDuplicateNames(t *testing.T) {
	steps := []*Step{step("a"), step("a")}
	_, err := ResolveDependencies(steps)
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

// Scenario A from the workflow's testable properties: a, b(a), c(a), d(b,c).
func TestScenarioADependencyDAG(t *testing.T) {
	steps := []*Step{step("a"), step("b", "a"), step("c", "a"), step("d", "b", "c")}
	ordered, err := GetExecutionOrder(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ordered[0].Name != "a" {
		t.Fatalf("expected a first, got %s", ordered[0].Name)
	}
	if ordered[3].Name != "d" {
		t.Fatalf("expected d last, got %s", ordered[3].Name)
	}
}
