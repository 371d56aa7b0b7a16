package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEffectiveRetries(t *testing.T) {
	if got := effectiveRetries(3, 5); got != 3 {
		t.Fatalf("expected step value to win under the cap, got %d", got)
	}
	if got := effectiveRetries(3, 2); got != 2 {
		t.Fatalf("expected maxRetries to clamp, got %d", got)
	}
	if got := effectiveRetries(50, 50); got != MaxRetriesPerStep {
		t.Fatalf("expected hard cap of %d, got %d", MaxRetriesPerStep, got)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	base := 100 * time.Millisecond
	if d := backoffDelay(base, 1); d != base {
		t.Fatalf("first attempt should equal base, got %v", d)
	}
	if d := backoffDelay(base, 2); d != 200*time.Millisecond {
		t.Fatalf("expected 200ms, got %v", d)
	}
	if d := backoffDelay(base, 3); d != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %v", d)
	}
}

func TestShouldRetryStatusDefaults(t *testing.T) {
	cases := map[int]bool{500: true, 502: true, 429: true, 408: true, 200: false, 404: false}
	for status, want := range cases {
		if got := shouldRetryStatus(status, nil); got != want {
			t.Fatalf("status %d: got %v want %v", status, got, want)
		}
	}
}

func TestShouldRetryStatusExplicitList(t *testing.T) {
	if !shouldRetryStatus(418, []int{418}) {
		t.Fatal("expected explicit retry_on list to match")
	}
	if shouldRetryStatus(500, []int{418}) {
		t.Fatal("explicit retry_on list should not fall back to defaults")
	}
}

// statusEvaluator is a test evaluate() that treats any 2xx status as passed
// and never runs real extraction/assertion work, for cases that only care
// about status-driven retry behavior.
func statusEvaluator(outcome *AdapterOutcome) (*attemptResult, error) {
	passed := outcome.StatusCode >= 200 && outcome.StatusCode < 300
	return &attemptResult{Outcome: outcome, Passed: passed}, nil
}

func TestRunWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	res, err, retries := runWithRetry(context.Background(), 3, time.Millisecond, nil,
		func(ctx context.Context) (*AdapterOutcome, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("boom")
			}
			return &AdapterOutcome{StatusCode: 200}, nil
		},
		statusEvaluator,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome.StatusCode != 200 {
		t.Fatalf("expected success outcome, got %+v", res)
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries before success, got %d", retries)
	}
}

func TestRunWithRetryExhausted(t *testing.T) {
	attempts := 0
	_, err, retries := runWithRetry(context.Background(), 2, time.Millisecond, nil,
		func(ctx context.Context) (*AdapterOutcome, error) {
			attempts++
			return nil, errors.New("boom")
		},
		statusEvaluator,
	)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3, got %d", attempts)
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries recorded, got %d", retries)
	}
}

func TestRunWithRetryRespectsStatusFilter(t *testing.T) {
	attempts := 0
	res, err, retries := runWithRetry(context.Background(), 3, time.Millisecond, []int{500},
		func(ctx context.Context) (*AdapterOutcome, error) {
			attempts++
			return &AdapterOutcome{StatusCode: 404}, nil
		},
		statusEvaluator,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("404 is not in retry_on, expected a single attempt, got %d", attempts)
	}
	if res.Outcome.StatusCode != 404 {
		t.Fatalf("expected the 404 outcome to be returned, got %+v", res)
	}
	if retries != 0 {
		t.Fatalf("expected 0 retries, got %d", retries)
	}
}

// TestRunWithRetryRetriesOnFailedAssertionDespite200 covers spec.md's
// "!passed && !skipped && !dry_run" retry trigger: a 200 response that
// fails an assert.body predicate must still retry when retry_on is unset,
// since the default trigger is the attempt's full passed-ness, not just a
// 5xx/429/408 status.
func TestRunWithRetryRetriesOnFailedAssertionDespite200(t *testing.T) {
	attempts := 0
	res, err, retries := runWithRetry(context.Background(), 2, time.Millisecond, nil,
		func(ctx context.Context) (*AdapterOutcome, error) {
			attempts++
			return &AdapterOutcome{StatusCode: 200}, nil
		},
		func(outcome *AdapterOutcome) (*attemptResult, error) {
			// Simulates an assert.body predicate that only passes on the
			// third attempt, despite every attempt returning 200.
			passed := attempts == 3
			return &attemptResult{
				Outcome: outcome,
				Passed:  passed,
				Assertions: []AssertionResult{
					{ID: "status=200", Passed: true},
					{ID: "body=.ready", Passed: passed},
				},
			}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected a failed body assertion on 200 to keep retrying, got %d attempts", attempts)
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries before the assertion passed, got %d", retries)
	}
	if !res.Passed {
		t.Fatalf("expected the final attempt to have passed, got %+v", res)
	}
}

func TestRunWithRetryStatusFilterIgnoresAssertionFailure(t *testing.T) {
	attempts := 0
	res, err, retries := runWithRetry(context.Background(), 2, time.Millisecond, []int{500},
		func(ctx context.Context) (*AdapterOutcome, error) {
			attempts++
			return &AdapterOutcome{StatusCode: 200}, nil
		},
		func(outcome *AdapterOutcome) (*attemptResult, error) {
			return &attemptResult{Outcome: outcome, Passed: false}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("explicit retry_on should ignore assertion failure and not retry, got %d attempts", attempts)
	}
	if retries != 0 {
		t.Fatalf("expected 0 retries, got %d", retries)
	}
	if res.Passed {
		t.Fatalf("expected the returned result to still report failed, got %+v", res)
	}
}
