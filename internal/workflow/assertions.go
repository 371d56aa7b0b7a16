package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AdapterResponse is the read-only view of a step's outcome that the
// Assertion Engine and the Script Host evaluate against. It is the uniform
// shape every adapter maps its protocol-specific result into.
type AdapterResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Elapsed    time.Duration
}

// parseLatencyBound parses a "<Ns" or "<Nms" assertion string into a
// duration bound.
func parseLatencyBound(pattern string) (time.Duration, error) {
	p := strings.TrimSpace(pattern)
	p = strings.TrimPrefix(p, "<")
	p = strings.TrimPrefix(p, "=")
	if p == "" {
		return 0, fmt.Errorf("empty latency assertion")
	}
	d, err := time.ParseDuration(p)
	if err != nil {
		// allow bare "500" to mean milliseconds, matching the original's
		// permissive numeric-only latency strings.
		if n, nerr := strconv.Atoi(p); nerr == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
		return 0, fmt.Errorf("invalid latency assertion %q: %w", pattern, err)
	}
	return d, nil
}

// EvaluateAssertions runs every predicate declared in assert against a
// response (which may be nil when the step produced no response at all —
// every assertion that references response data then fails, per §4.9).
func EvaluateAssertions(assert *StepAssertions, resp *AdapterResponse, scriptRunner func(*ScriptConfig, *AdapterResponse) (bool, string, error)) []AssertionResult {
	if assert == nil {
		return nil
	}
	var results []AssertionResult

	if assert.Status != "" {
		results = append(results, evaluateStatus(assert.Status, resp))
	}
	if assert.Latency != "" {
		results = append(results, evaluateLatency(assert.Latency, resp))
	}
	for name, want := range assert.Headers {
		results = append(results, evaluateHeader(name, want, resp))
	}
	for _, pattern := range assert.Body {
		results = append(results, evaluateBody(pattern, resp))
	}
	if assert.Script != nil && scriptRunner != nil {
		ok, msg, err := scriptRunner(assert.Script, resp)
		if err != nil {
			results = append(results, AssertionResult{ID: "script_assert", Passed: false, Message: err.Error()})
		} else {
			results = append(results, AssertionResult{ID: "script_assert", Passed: ok, Message: msg})
		}
	}
	return results
}

func evaluateStatus(pattern string, resp *AdapterResponse) AssertionResult {
	id := "status=" + pattern
	if resp == nil {
		return AssertionResult{ID: id, Passed: false, Message: "no response to evaluate"}
	}
	ok, err := matchStatusPattern(pattern, resp.StatusCode)
	if err != nil {
		return AssertionResult{ID: id, Passed: false, Message: err.Error()}
	}
	msg := fmt.Sprintf("status %d matches %s", resp.StatusCode, pattern)
	if !ok {
		msg = fmt.Sprintf("status %d does not match %s", resp.StatusCode, pattern)
	}
	return AssertionResult{ID: id, Passed: ok, Message: msg}
}

// matchStatusPattern implements the three status forms from §4.5: exact
// number, inclusive range "lo-hi", and class glob "2xx"-"5xx".
func matchStatusPattern(pattern string, status int) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	switch {
	case strings.HasSuffix(strings.ToLower(pattern), "xx") && len(pattern) == 3:
		class := pattern[0]
		if class < '1' || class > '9' {
			return false, fmt.Errorf("invalid status class %q", pattern)
		}
		return status/100 == int(class-'0'), nil
	case strings.Contains(pattern, "-"):
		parts := strings.SplitN(pattern, "-", 2)
		lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("invalid status range %q", pattern)
		}
		return status >= lo && status <= hi, nil
	default:
		want, err := strconv.Atoi(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid status pattern %q", pattern)
		}
		return status == want, nil
	}
}

func evaluateLatency(pattern string, resp *AdapterResponse) AssertionResult {
	id := "time<" + strings.TrimPrefix(pattern, "<")
	bound, err := parseLatencyBound(pattern)
	if err != nil {
		return AssertionResult{ID: id, Passed: false, Message: err.Error()}
	}
	if resp == nil {
		return AssertionResult{ID: id, Passed: false, Message: "no response to evaluate"}
	}
	passed := resp.Elapsed <= bound
	msg := fmt.Sprintf("elapsed %s within %s", resp.Elapsed, bound)
	if !passed {
		msg = fmt.Sprintf("elapsed %s exceeds %s", resp.Elapsed, bound)
	}
	return AssertionResult{ID: id, Passed: passed, Message: msg}
}

func evaluateHeader(name, want string, resp *AdapterResponse) AssertionResult {
	id := "header=" + name + ":" + want
	if resp == nil {
		return AssertionResult{ID: id, Passed: false, Message: "no response to evaluate"}
	}
	got, ok := lookupHeaderCI(resp.Headers, name)
	if !ok {
		return AssertionResult{ID: id, Passed: false, Message: fmt.Sprintf("header %q missing", name)}
	}
	passed := strings.Contains(got, want)
	msg := fmt.Sprintf("header %q = %q contains %q", name, got, want)
	if !passed {
		msg = fmt.Sprintf("header %q = %q does not contain %q", name, got, want)
	}
	return AssertionResult{ID: id, Passed: passed, Message: msg}
}

func lookupHeaderCI(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// evaluateBody implements the three body-predicate forms from §4.5: a
// JSON-query expression (pattern starts with "." or "["), a "key:value"
// shorthand compiled to ".key" with string-equals comparison, or a literal
// substring match on the raw body.
func evaluateBody(pattern string, resp *AdapterResponse) AssertionResult {
	id := "body=" + pattern
	if resp == nil {
		return AssertionResult{ID: id, Passed: false, Message: "no response to evaluate"}
	}

	switch {
	case strings.HasPrefix(pattern, ".") || strings.HasPrefix(pattern, "["):
		results, ok, err := jsonQueryOverBody(resp.Body, pattern)
		if err != nil {
			return AssertionResult{ID: id, Passed: false, Message: err.Error()}
		}
		if !ok {
			return AssertionResult{ID: id, Passed: false, Message: "query produced no results"}
		}
		truthy := anyTruthy(results)
		msg := fmt.Sprintf("query %s is truthy", pattern)
		if !truthy {
			msg = fmt.Sprintf("query %s is falsy", pattern)
		}
		return AssertionResult{ID: id, Passed: truthy, Message: msg}

	case strings.Contains(pattern, ":") && looksLikeKeyValue(pattern):
		key, want, _ := strings.Cut(pattern, ":")
		results, ok, err := jsonQueryOverBody(resp.Body, "."+key)
		if err != nil || !ok {
			msg := "key not found"
			if err != nil {
				msg = err.Error()
			}
			return AssertionResult{ID: id, Passed: false, Message: msg}
		}
		got := unquoteJSONValue(firstOf(results))
		passed := got == want
		msg := fmt.Sprintf("%s = %q (want %q)", key, got, want)
		return AssertionResult{ID: id, Passed: passed, Message: msg}

	default:
		passed := strings.Contains(string(resp.Body), pattern)
		msg := fmt.Sprintf("body contains %q", pattern)
		if !passed {
			msg = fmt.Sprintf("body does not contain %q", pattern)
		}
		return AssertionResult{ID: id, Passed: passed, Message: msg}
	}
}

// injectAdapterAssertions appends the mandatory engine assertions the fuzz
// and bench adapters carry regardless of the step's own assert block, per
// §4.4: a fuzz run must clear with no server errors and no reflected-payload
// anomalies, and a bench run must clear a 95% success rate and (when the
// step declares assert.latency) its p95 latency bound.
func injectAdapterAssertions(st *Step, outcome *AdapterOutcome, assertions []AssertionResult) []AssertionResult {
	switch st.Kind {
	case StepKindFuzz:
		noServerErrors, _ := outcome.Extra["no_server_errors"].(bool)
		assertions = append(assertions, AssertionResult{
			ID:      "no_server_errors",
			Passed:  noServerErrors,
			Message: fmt.Sprintf("%v server error(s) observed", outcome.Extra["server_errors"]),
		})
		noAnomalies, _ := outcome.Extra["no_anomalies"].(bool)
		assertions = append(assertions, AssertionResult{
			ID:      "no_anomalies",
			Passed:  noAnomalies,
			Message: fmt.Sprintf("%v anomalous response(s) observed", outcome.Extra["anomalies"]),
		})

	case StepKindBench:
		succeeded, _ := outcome.Extra["succeeded"].(int)
		failed, _ := outcome.Extra["failed"].(int)
		rate := 1.0
		if total := succeeded + failed; total > 0 {
			rate = float64(succeeded) / float64(total)
		}
		assertions = append(assertions, AssertionResult{
			ID:      "success_rate>=0.95",
			Passed:  rate >= 0.95,
			Message: fmt.Sprintf("success rate %.2f", rate),
		})
		if st.Assert != nil && st.Assert.Latency != "" {
			if bound, err := parseLatencyBound(st.Assert.Latency); err == nil {
				p95ms, _ := outcome.Extra["p95_ms"].(float64)
				p95 := time.Duration(p95ms * float64(time.Millisecond))
				assertions = append(assertions, AssertionResult{
					ID:      "p95<=" + strings.TrimPrefix(st.Assert.Latency, "<"),
					Passed:  p95 <= bound,
					Message: fmt.Sprintf("p95 %s within %s", p95, bound),
				})
			}
		}
	}
	return assertions
}

func jsonQueryOverBody(body []byte, expr string) ([]any, bool, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false, fmt.Errorf("response body is not valid JSON: %w", err)
	}
	return RunJSONQuery(expr, decoded)
}

func anyTruthy(results []any) bool {
	for _, r := range results {
		if IsTruthy(r) {
			return true
		}
	}
	return false
}

func firstOf(results []any) any {
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

func unquoteJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// looksLikeKeyValue guards against literal substring patterns that merely
// happen to contain a colon (e.g. a URL or timestamp fragment): a bare
// "key:value" shorthand has no spaces and no slashes around the colon.
func looksLikeKeyValue(pattern string) bool {
	key, value, found := strings.Cut(pattern, ":")
	if !found || key == "" {
		return false
	}
	if strings.HasPrefix(value, "/") || strings.HasPrefix(value, " ") {
		return false
	}
	for _, r := range key {
		if !(r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
