package workflow

import (
	"encoding/json"
	"testing"
)

func TestComposeGraphQLBuildsJSONBody(t *testing.T) {
	step := &Step{
		Name: "list widgets",
		Kind: StepKindGraphQL,
		GraphQL: &GraphQLConfig{
			Query:         "query ListWidgets($limit: Int) { widgets(limit: $limit) { id } }",
			OperationName: "ListWidgets",
			Variables:     map[string]any{"limit": float64(10)},
		},
	}
	req := &AdapterRequest{Step: step, Method: "GET", URL: "https://api.example.com/graphql"}

	composed, err := composeGraphQL(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if composed.Method != "POST" {
		t.Fatalf("expected GraphQL to force POST, got %s", composed.Method)
	}
	if composed.Headers["Content-Type"] != "application/json" {
		t.Fatalf("expected JSON content type, got %q", composed.Headers["Content-Type"])
	}

	var payload map[string]any
	if err := json.Unmarshal(composed.Body, &payload); err != nil {
		t.Fatalf("composed body is not valid JSON: %v", err)
	}
	if payload["operationName"] != "ListWidgets" {
		t.Fatalf("expected operationName to survive, got %v", payload["operationName"])
	}
	if payload["query"] != step.GraphQL.Query {
		t.Fatalf("expected query to survive unchanged, got %v", payload["query"])
	}
	vars, ok := payload["variables"].(map[string]any)
	if !ok || vars["limit"] != float64(10) {
		t.Fatalf("expected variables to survive, got %v", payload["variables"])
	}
}

func TestComposeGraphQLMissingConfigErrors(t *testing.T) {
	req := &AdapterRequest{Step: &Step{Name: "bad", Kind: StepKindGraphQL}}
	if _, err := composeGraphQL(req); err == nil {
		t.Fatal("expected an error when graphql config is missing")
	}
}

func TestDispatchUnknownKindErrors(t *testing.T) {
	d := NewDispatcher(nil)
	req := &AdapterRequest{Step: &Step{Name: "mystery", Kind: StepKind("unknown")}}
	if _, err := d.Dispatch(nil, req, nil); err == nil {
		t.Fatal("expected an error for an unrecognized step kind")
	}
}
