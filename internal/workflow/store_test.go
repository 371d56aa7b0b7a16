package workflow

import "testing"

func TestVariableStoreSetLookup(t *testing.T) {
	s := NewVariableStore()
	s.Set("name", "widget")
	v, ok := s.Lookup("name")
	if !ok || v != "widget" {
		t.Fatalf("expected name=widget, got %v %v", v, ok)
	}
	if _, ok := s.Lookup("missing"); ok {
		t.Fatal("expected missing lookup to fail")
	}
}

func TestVariableStoreDottedPathLookup(t *testing.T) {
	s := NewVariableStore()
	s.Set("user", map[string]any{"id": float64(42), "name": "ann"})
	v, ok := s.Lookup("user.id")
	if !ok || v != float64(42) {
		t.Fatalf("expected user.id=42, got %v %v", v, ok)
	}
}

func TestVariableStoreIndexedPathLookup(t *testing.T) {
	s := NewVariableStore()
	s.Set("items", []any{"a", "b", "c"})
	v, ok := s.Lookup("items[1]")
	if !ok || v != "b" {
		t.Fatalf("expected items[1]=b, got %v %v", v, ok)
	}
}

func TestVariableStoreSnapshotIsACopy(t *testing.T) {
	s := NewVariableStore()
	s.Set("a", 1)
	snap := s.Snapshot()
	snap["a"] = 2
	v, _ := s.Lookup("a")
	if v != 1 {
		t.Fatalf("mutating the snapshot should not affect the store, got %v", v)
	}
}

func TestIsTruthyRules(t *testing.T) {
	cases := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0, false},
		{1, true},
		{"", false},
		{"x", true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{map[string]any{"a": 1}, true},
	}
	for _, c := range cases {
		if got := IsTruthy(c.v); got != c.want {
			t.Fatalf("IsTruthy(%#v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestProjectEnvAllowList(t *testing.T) {
	t.Setenv("QUICPULSE_TEST_TOKEN", "secret-value")
	s := NewVariableStore()
	ProjectEnv(s, []string{"QUICPULSE_TEST_TOKEN"})
	v, ok := s.Lookup("env_QUICPULSE_TEST_TOKEN")
	if !ok || v != "secret-value" {
		t.Fatalf("expected allow-listed env var to be projected, got %v %v", v, ok)
	}
	if _, ok := s.Lookup("env_PATH"); ok {
		t.Fatal("expected non-allow-listed env vars to be excluded")
	}
}
