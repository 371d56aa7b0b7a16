package workflow

import (
	"context"
	"math"
	"time"
)

// effectiveRetries clamps a step's declared retry count to the run-wide
// ceiling and the hard upper bound of 10, per spec.md §4.3.
func effectiveRetries(stepRetries, maxRetries int) int {
	n := stepRetries
	if maxRetries > 0 && maxRetries < n {
		n = maxRetries
	}
	if n > MaxRetriesPerStep {
		n = MaxRetriesPerStep
	}
	if n < 0 {
		n = 0
	}
	return n
}

// backoffDelay computes retry_delay * 2^(attempt-1) for attempt >= 1,
// mirroring tombee-conductor's httpclient retry transport's exponential
// schedule but without jitter, since step retries are deterministic and
// user-specified.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(base) * factor)
}

// shouldRetryStatus reports whether status matches the step's retry_on
// filter, or any 5xx/429/408 when the filter is empty.
func shouldRetryStatus(status int, retryOn []int) bool {
	if len(retryOn) > 0 {
		for _, s := range retryOn {
			if s == status {
				return true
			}
		}
		return false
	}
	return status >= 500 || status == 429 || status == 408
}

// attemptResult is one dispatch-and-evaluate cycle's outcome: the adapter
// outcome plus whatever extraction/assertion evaluation that attempt
// produced, since a retry decision needs the full picture, not just the
// status code.
type attemptResult struct {
	Outcome    *AdapterOutcome
	Passed     bool
	Assertions []AssertionResult
	Extracted  map[string]any
}

// shouldRetryAttempt implements spec.md's "a result is retried when
// !passed && !skipped && !dry_run; if retry_on is set, retry only when the
// observed status is in that set" rule. With retry_on unset, the trigger is
// the attempt's full passed-ness (extraction and assertions included), not
// just its status code.
func shouldRetryAttempt(res *attemptResult, retryOn []int) bool {
	if len(retryOn) > 0 {
		return shouldRetryStatus(res.Outcome.StatusCode, retryOn)
	}
	return !res.Passed
}

// runWithRetry dispatches one attempt, evaluates its outcome via evaluate,
// and retries on dispatch error or shouldRetryAttempt up to retries times,
// waiting backoffDelay(retryDelay, n) between attempts. evaluate errors
// (e.g. a broken post-script or assertion script) abort the retry loop
// immediately rather than being treated as retryable.
func runWithRetry(
	ctx context.Context,
	retries int,
	retryDelay time.Duration,
	retryOn []int,
	attempt func(ctx context.Context) (*AdapterOutcome, error),
	evaluate func(outcome *AdapterOutcome) (*attemptResult, error),
) (*attemptResult, error, int) {
	var lastErr error

	for n := 0; n <= retries; n++ {
		if n > 0 {
			delay := backoffDelay(retryDelay, n)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err(), n
				}
			}
		}

		outcome, err := attempt(ctx)
		if err != nil {
			lastErr = err
			if n == retries {
				return nil, lastErr, n
			}
			continue
		}

		res, err := evaluate(outcome)
		if err != nil {
			return nil, err, n
		}

		if n == retries || !shouldRetryAttempt(res, retryOn) {
			return res, nil, n
		}
	}
	return nil, lastErr, retries
}
