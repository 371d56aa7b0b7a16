package workflow

import "testing"

func TestEvalConditionEmptyIsTrue(t *testing.T) {
	h := NewScriptHost()
	ok, err := h.EvalCondition("", NewVariableStore(), nil)
	if err != nil || !ok {
		t.Fatalf("empty expression should be true with no error, got %v %v", ok, err)
	}
}

func TestEvalConditionAgainstStoreAndResponse(t *testing.T) {
	h := NewScriptHost()
	store := NewVariableStore()
	store.Set("count", 3)
	resp := &ResponseData{StatusCode: 200}

	ok, err := h.EvalCondition("count > 2 && status == 200", store, resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected condition to evaluate true")
	}

	ok, err = h.EvalCondition("count > 10", store, resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected condition to evaluate false")
	}
}

func TestEvalConditionCachesCompiledProgram(t *testing.T) {
	h := NewScriptHost()
	store := NewVariableStore()
	store.Set("x", 1)
	if _, err := h.EvalCondition("x == 1", store, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.exprCache["x == 1"]; !ok {
		t.Fatal("expected compiled program to be cached")
	}
}

func TestEvalConditionNonBooleanErrors(t *testing.T) {
	h := NewScriptHost()
	if _, err := h.EvalCondition("1 + 1", NewVariableStore(), nil); err == nil {
		t.Fatal("expected an error for a non-boolean expression")
	}
}

func TestRunScriptJavaScriptSetsVariables(t *testing.T) {
	h := NewScriptHost()
	store := NewVariableStore()
	cfg := &ScriptConfig{Type: "javascript", Inline: `setVar("doubled", vars.n * 2); true`}
	store.Set("n", 21)

	result, err := h.RunScript(cfg, store, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Variables["doubled"] != int64(42) && result.Variables["doubled"] != float64(42) {
		t.Fatalf("expected doubled=42, got %v (%T)", result.Variables["doubled"], result.Variables["doubled"])
	}
}

func TestRunScriptRuneDelegatesToEvalCondition(t *testing.T) {
	h := NewScriptHost()
	store := NewVariableStore()
	store.Set("ok", true)
	cfg := &ScriptConfig{Type: "rune", Inline: "ok"}

	result, err := h.RunScript(cfg, store, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Fatal("expected rune script to pass")
	}
}

func TestDecodeJWTClaims(t *testing.T) {
	// header {"alg":"none"} payload {"sub":"123","name":"a"}
	token := "eyJhbGciOiJub25lIn0.eyJzdWIiOiIxMjMiLCJuYW1lIjoiYSJ9."
	claims, err := decodeJWTClaims(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims["sub"] != "123" {
		t.Fatalf("expected sub=123, got %v", claims["sub"])
	}
}

func TestValidateJSONSchema(t *testing.T) {
	schema := `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`

	ok, errs, err := validateJSONSchema(schema, `{"name":"x"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid document, got errors: %v", errs)
	}

	ok, errs, err = validateJSONSchema(schema, `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected missing required field to fail validation")
	}
	if len(errs) == 0 {
		t.Fatal("expected validation error messages")
	}
}
