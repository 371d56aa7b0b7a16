package workflow

import "testing"

func TestRunJSONQuerySingleResult(t *testing.T) {
	input := map[string]any{"name": "widget", "qty": float64(3)}
	results, ok, err := RunJSONQuery(".name", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || len(results) != 1 || results[0] != "widget" {
		t.Fatalf("expected [widget], got %v ok=%v", results, ok)
	}
}

func TestRunJSONQueryNoResultsIsNotAnError(t *testing.T) {
	input := map[string]any{"name": "widget"}
	results, ok, err := RunJSONQuery("empty", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || results != nil {
		t.Fatalf("expected ok=false with no results, got %v ok=%v", results, ok)
	}
}

func TestRunJSONQueryInvalidExpressionErrors(t *testing.T) {
	if _, _, err := RunJSONQuery("{{{", map[string]any{}); err == nil {
		t.Fatal("expected an error for a malformed query expression")
	}
}

func TestExtractJSONSingleValue(t *testing.T) {
	body := []byte(`{"id":42,"name":"widget"}`)
	v, ok, err := ExtractJSON(body, ".id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != float64(42) {
		t.Fatalf("expected 42, got %v ok=%v", v, ok)
	}
}

func TestExtractJSONFanOutReturnsSlice(t *testing.T) {
	body := []byte(`{"items":[{"id":1},{"id":2},{"id":3}]}`)
	v, ok, err := ExtractJSON(body, ".items[].id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	ids, isSlice := v.([]any)
	if !isSlice || len(ids) != 3 {
		t.Fatalf("expected a 3-element slice, got %v (%T)", v, v)
	}
}

func TestExtractJSONInvalidBodyErrors(t *testing.T) {
	if _, _, err := ExtractJSON([]byte("not json"), ".id"); err == nil {
		t.Fatal("expected an error for a non-JSON body")
	}
}

func TestExtractJSONNoMatchIsNotAnError(t *testing.T) {
	body := []byte(`{"id":42}`)
	v, ok, err := ExtractJSON(body, "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || v != nil {
		t.Fatalf("expected ok=false with a nil value, got %v ok=%v", v, ok)
	}
}
