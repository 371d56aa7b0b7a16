package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestEngine() *Engine {
	return NewEngine(nil)
}

func boolPtr(b bool) *bool { return &b }

func TestRunStopsByDefaultAfterFailingStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wf := &Workflow{
		Name:    "wf",
		BaseURL: srv.URL,
		Steps: []*Step{
			{Name: "a", Kind: StepKindHTTP, URL: "/fail", Assert: &StepAssertions{Status: "2xx"}},
			{Name: "b", Kind: StepKindHTTP, URL: "/ok", Assert: &StepAssertions{Status: "2xx"}},
		},
	}

	result, err := newTestEngine().Run(context.Background(), wf, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 1 {
		t.Fatalf("expected the run to stop after the failing step, got %d results", len(result.Steps))
	}
	if result.Steps[0].Passed() {
		t.Fatal("expected the first step to be recorded as failed")
	}
}

func TestRunContinuesOnFailureWhenOptedIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wf := &Workflow{
		Name:    "wf",
		BaseURL: srv.URL,
		Steps: []*Step{
			{Name: "a", Kind: StepKindHTTP, URL: "/fail", Assert: &StepAssertions{Status: "2xx"}},
			{Name: "b", Kind: StepKindHTTP, URL: "/ok", Assert: &StepAssertions{Status: "2xx"}},
		},
	}

	result, err := newTestEngine().Run(context.Background(), wf, RunOptions{ContinueOnFailure: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected both steps to run, got %d results", len(result.Steps))
	}
	if result.Steps[1].StatusCode == nil || *result.Steps[1].StatusCode != http.StatusOK {
		t.Fatalf("expected the second step to have actually executed, got %+v", result.Steps[1])
	}
}

// TestRunRetriesOnFailedAssertionNotJustStatus covers spec.md's default
// retry trigger (!passed, assertion-inclusive) end to end: a 200 response
// whose body doesn't yet satisfy assert.body must retry until it does,
// entirely without a retry_on status list.
func TestRunRetriesOnFailedAssertionNotJustStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		if calls < 3 {
			w.Write([]byte(`{"ready":false}`))
			return
		}
		w.Write([]byte(`{"ready":true}`))
	}))
	defer srv.Close()

	wf := &Workflow{
		Name:    "wf",
		BaseURL: srv.URL,
		Steps: []*Step{
			{
				Name:       "poll",
				Kind:       StepKindHTTP,
				URL:        "/status",
				Retries:    5,
				RetryDelay: "1ms",
				Assert:     &StepAssertions{Body: []string{".ready"}},
			},
		},
	}

	result, err := newTestEngine().Run(context.Background(), wf, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 dispatch attempts before the body assertion passed, got %d", calls)
	}
	if !result.Steps[0].Passed() {
		t.Fatalf("expected the step to eventually pass, got %+v", result.Steps[0])
	}
	if result.Steps[0].Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", result.Steps[0].Attempts)
	}
}

func TestRunFailFastStopsStepIterationsIndependentlyOfContinueOnFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wf := &Workflow{
		Name:    "wf",
		BaseURL: srv.URL,
		Steps: []*Step{
			{Name: "loop", Kind: StepKindHTTP, URL: "/x", Repeat: 5, FailFast: boolPtr(true), Assert: &StepAssertions{Status: "2xx"}},
		},
	}

	result, err := newTestEngine().Run(context.Background(), wf, RunOptions{ContinueOnFailure: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fail_fast to stop repeat iterations after the first failure, got %d calls", calls)
	}
	if len(result.Steps) != 1 {
		t.Fatalf("expected 1 recorded iteration, got %d", len(result.Steps))
	}
}
