package report

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/quicpulse/quicpulse/internal/workflow"
)

func sampleResult() *workflow.RunResult {
	passStatus := 200
	failStatus := 500
	steps := []*workflow.StepResult{
		{Name: "create user", Method: "POST", URL: "/users", StatusCode: &passStatus, ElapsedMs: 10,
			Assertions: []workflow.AssertionResult{{ID: "status=2xx", Passed: true}}},
		{Name: "get user", Method: "GET", URL: "/users/1", StatusCode: &failStatus, ElapsedMs: 5,
			Assertions: []workflow.AssertionResult{{ID: "status=2xx", Passed: false, Message: "got 500"}}},
		{Name: "skipped step", Skipped: true},
	}
	return &workflow.RunResult{
		Name:        "smoke test",
		Description: "basic smoke coverage",
		Summary:     workflow.Summarize(steps),
		Steps:       steps,
	}
}

func TestWritePrettyIncludesStepsAndSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleResult(), FormatPretty); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"smoke test", "create user", "get user", "got 500", "skipped step"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected pretty output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleResult(), FormatJSON); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"name": "smoke test"`) {
		t.Fatalf("expected indented JSON with run name, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `"passed": true`) || !strings.Contains(buf.String(), `"passed": false`) {
		t.Fatalf("expected per-step computed passed field, got:\n%s", buf.String())
	}
}

func TestWriteJUnitProducesValidXML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleResult(), FormatJUnit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc junitTestsuites
	if err := xml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse JUnit XML: %v", err)
	}
	if len(doc.Suites) != 1 || len(doc.Suites[0].Cases) != 3 {
		t.Fatalf("expected 1 suite with 3 cases, got %+v", doc)
	}
	failing := doc.Suites[0].Cases[1]
	if failing.Failure == nil {
		t.Fatal("expected the failing step to carry a <failure> element")
	}
}

func TestWriteTAPMarksFailuresAndSkips(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleResult(), FormatTAP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "TAP version 14\n1..3\n") {
		t.Fatalf("expected TAP header/plan, got:\n%s", out)
	}
	if !strings.Contains(out, "not ok 2 - get user") {
		t.Fatalf("expected failing step marked 'not ok', got:\n%s", out)
	}
	if !strings.Contains(out, "ok 3 - skipped step # SKIP") {
		t.Fatalf("expected skipped step marked SKIP, got:\n%s", out)
	}
}

func TestWriteUnknownFormatFallsBackToPretty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleResult(), Format("nonsense")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "smoke test") {
		t.Fatal("expected fallback to pretty output")
	}
}
