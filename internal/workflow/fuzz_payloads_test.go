package workflow

import "testing"

func TestAllCategoriesCoverTable(t *testing.T) {
	for _, c := range AllCategories() {
		if len(fuzzPayloadTable[c]) == 0 {
			t.Fatalf("category %s has no payloads", c)
		}
	}
}

func TestPayloadsForAllCategories(t *testing.T) {
	payloads := PayloadsFor(nil, 1)
	if len(payloads) == 0 {
		t.Fatal("expected at least one payload across all categories")
	}
	for _, p := range payloads {
		if p.RiskLevel < 1 {
			t.Fatalf("unexpected risk level %d for payload %q", p.RiskLevel, p.Value)
		}
	}
}

func TestPayloadsForFiltersByCategory(t *testing.T) {
	payloads := PayloadsFor([]PayloadCategory{CategorySQLInjection}, 1)
	if len(payloads) == 0 {
		t.Fatal("expected sql_injection payloads")
	}
	for _, p := range payloads {
		if p.Category != CategorySQLInjection {
			t.Fatalf("unexpected category leaked into filtered set: %s", p.Category)
		}
	}
}

func TestPayloadsForMinRiskExcludesLowRisk(t *testing.T) {
	all := PayloadsFor([]PayloadCategory{CategoryBoundary}, 1)
	highOnly := PayloadsFor([]PayloadCategory{CategoryBoundary}, 2)
	if len(highOnly) >= len(all) {
		t.Fatalf("expected min_risk=2 to exclude the low-risk empty-value payload: all=%d highOnly=%d", len(all), len(highOnly))
	}
}

func TestRiskLevelForNames(t *testing.T) {
	cases := map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4, "": 1, "bogus": 1}
	for name, want := range cases {
		if got := riskLevelFor(name); got != want {
			t.Fatalf("riskLevelFor(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestStringOfLength(t *testing.T) {
	s := stringOfLength(100)
	if len(s) != 100 {
		t.Fatalf("expected length 100, got %d", len(s))
	}
}
