package workflow

import (
	"encoding/json"
	"time"
)

// AssertionResult is the outcome of evaluating one predicate against a
// step's response. ID is a stable string such as "status=2xx" or
// "header=Content-Type:application/json", used verbatim in JUnit/TAP output.
type AssertionResult struct {
	ID      string `json:"assertion"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// StepResult is the captured record of one step attempt (or one control-flow
// iteration of a step).
type StepResult struct {
	Name       string            `json:"name"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	StatusCode *int              `json:"status_code,omitempty"`
	Elapsed    time.Duration     `json:"-"`
	ElapsedMs  int64             `json:"response_time_ms"`
	Assertions []AssertionResult `json:"assertions"`
	Extracted  map[string]any    `json:"extracted,omitempty"`
	Error      string            `json:"error,omitempty"`
	Skipped    bool              `json:"skipped"`
	Attempts   int               `json:"attempts,omitempty"`
	Iteration  int               `json:"iteration,omitempty"`
}

// Passed implements the invariant in spec §8.5: not skipped, no error, and
// every assertion passed.
func (r *StepResult) Passed() bool {
	if r.Skipped || r.Error != "" {
		return false
	}
	for _, a := range r.Assertions {
		if !a.Passed {
			return false
		}
	}
	return true
}

// stepResultJSON mirrors StepResult but adds the computed "passed" field
// the §6 result document requires, without storing a redundant bool on
// the struct itself (Passed() stays the single source of truth).
type stepResultJSON struct {
	Name       string            `json:"name"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	StatusCode *int              `json:"status_code,omitempty"`
	ElapsedMs  int64             `json:"response_time_ms"`
	Passed     bool              `json:"passed"`
	Assertions []AssertionResult `json:"assertions"`
	Extracted  map[string]any    `json:"extracted,omitempty"`
	Error      string            `json:"error,omitempty"`
	Skipped    bool              `json:"skipped"`
	Attempts   int               `json:"attempts,omitempty"`
	Iteration  int               `json:"iteration,omitempty"`
}

func (r *StepResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepResultJSON{
		Name:       r.Name,
		Method:     r.Method,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		ElapsedMs:  r.ElapsedMs,
		Passed:     r.Passed(),
		Assertions: r.Assertions,
		Extracted:  r.Extracted,
		Error:      r.Error,
		Skipped:    r.Skipped,
		Attempts:   r.Attempts,
		Iteration:  r.Iteration,
	})
}

// RunSummary tallies a workflow run's results for the Result document and
// report footers.
type RunSummary struct {
	Total       int   `json:"total"`
	Passed      int   `json:"passed"`
	Failed      int   `json:"failed"`
	Skipped     int   `json:"skipped"`
	TotalTimeMs int64 `json:"total_time_ms"`
}

// Summarize computes a RunSummary from a result set.
func Summarize(results []*StepResult) RunSummary {
	var s RunSummary
	s.Total = len(results)
	for _, r := range results {
		s.TotalTimeMs += r.ElapsedMs
		switch {
		case r.Skipped:
			s.Skipped++
		case r.Passed():
			s.Passed++
		default:
			s.Failed++
		}
	}
	return s
}

// RunResult is the full Result document described in spec.md §6.
type RunResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Timestamp   string        `json:"timestamp"`
	Summary     RunSummary    `json:"summary"`
	Steps       []*StepResult `json:"steps"`
}
