package workflow

import "testing"

func TestRenderStringSubstitutesVariables(t *testing.T) {
	s := NewVariableStore()
	s.Set("name", "widget")
	s.Set("id", float64(7))

	got, err := RenderString("/items/{{id}}?label={{name}}", s, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/items/7?label=widget"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderStringStrictErrorsOnUndefined(t *testing.T) {
	s := NewVariableStore()
	if _, err := RenderString("{{missing}}", s, true); err == nil {
		t.Fatal("expected strict rendering to error on an undefined variable")
	}
}

func TestRenderStringLenientPlaceholdersUndefined(t *testing.T) {
	s := NewVariableStore()
	got, err := RenderString("{{missing}}", s, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "<missing>" {
		t.Fatalf("expected lenient placeholder, got %q", got)
	}
}

func TestRenderStringExpandsMagicUUID(t *testing.T) {
	s := NewVariableStore()
	got, err := RenderString("{uuid}", s, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 36 {
		t.Fatalf("expected a 36-character UUID, got %q (%d chars)", got, len(got))
	}
}

func TestRenderJSONTemplateSubstitutesIntoJSON(t *testing.T) {
	s := NewVariableStore()
	s.Set("name", "widget")
	got, err := RenderJSONTemplate([]byte(`{"name":"{{name}}","qty":1}`), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"name":"widget","qty":1}`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCompileRenderLiteralOnly(t *testing.T) {
	tpl := Compile("no variables here")
	got, err := tpl.Render(NewVariableStore(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "no variables here" {
		t.Fatalf("got %q", got)
	}
}
