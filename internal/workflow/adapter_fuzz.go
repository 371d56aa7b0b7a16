package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// fuzzCase is one (field, payload) pair to exercise, the Cartesian product
// unit described in §4.4's fuzz contract.
type fuzzCase struct {
	Field   string
	Payload FuzzPayload
}

// fuzzFinding records one test case whose outcome crossed a risk threshold:
// a server error, a timeout, a connection failure, or a reflected payload.
type fuzzFinding struct {
	Field      string `json:"field"`
	Payload    string `json:"payload"`
	Category   string `json:"category"`
	RiskLevel  int    `json:"risk_level"`
	StatusCode int    `json:"status_code"`
	Kind       string `json:"kind"` // server_error|timeout|connection_error|anomaly
}

// maxFuzzCases bounds the Cartesian product so a misconfigured fields list
// cannot explode into an unbounded request volume, per §4.4.
const maxFuzzCases = 10_000

// FuzzAdapter drives the HTTP adapter once per (field, payload) combination
// and summarizes the results, grounded on original_source/src/fuzz/runner.rs.
type FuzzAdapter struct {
	http *HTTPAdapter
}

func NewFuzzAdapter(http *HTTPAdapter) *FuzzAdapter {
	return &FuzzAdapter{http: http}
}

func (a *FuzzAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	cfg := req.Step.Fuzz
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "fuzz", "fuzz step missing fuzz config")
	}
	if len(cfg.Fields) == 0 {
		return nil, newErrf(KindArgument, req.Step.Name, "fuzz.fields", "fuzz step requires at least one field")
	}

	var categories []PayloadCategory
	for _, c := range cfg.Categories {
		categories = append(categories, PayloadCategory(c))
	}
	payloads := PayloadsFor(categories, riskLevelFor(cfg.RiskLevel))

	var cases []fuzzCase
	for _, f := range cfg.Fields {
		for _, p := range payloads {
			if len(cases) >= maxFuzzCases {
				break
			}
			cases = append(cases, fuzzCase{Field: f, Payload: p})
		}
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	start := time.Now()
	results := make([]fuzzCaseResult, len(cases))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, c := range cases {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c fuzzCase) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.runOne(ctx, req, c)
		}(i, c)
	}
	wg.Wait()
	elapsed := time.Since(start)

	summary := summarizeFuzz(cases, results)
	body, _ := json.Marshal(summary)

	return &AdapterOutcome{
		StatusCode: 0,
		Body:       body,
		Elapsed:    elapsed,
		Extra: map[string]any{
			"total_cases":        summary.TotalCases,
			"server_errors":      summary.ServerErrors,
			"client_errors":      summary.ClientErrors,
			"timeouts":           summary.Timeouts,
			"connection_errors":  summary.ConnectionErrors,
			"anomalies":          summary.Anomalies,
			"findings":           summary.Findings,
			"no_server_errors":   summary.ServerErrors == 0,
			"no_anomalies":       summary.Anomalies == 0,
		},
	}, nil
}

type fuzzCaseResult struct {
	status  int
	body    []byte
	err     error
	latency time.Duration
}

func (a *FuzzAdapter) runOne(ctx context.Context, base *AdapterRequest, c fuzzCase) fuzzCaseResult {
	mutated := mutateRequest(base, c.Field, c.Payload.Value)
	start := time.Now()
	outcome, err := a.http.Do(ctx, mutated, nil)
	latency := time.Since(start)
	if err != nil {
		return fuzzCaseResult{err: err, latency: latency}
	}
	return fuzzCaseResult{status: outcome.StatusCode, body: outcome.Body, latency: latency}
}

// mutateRequest clones req and substitutes value into the named field. A
// "header:" prefix targets a request header. Otherwise the value goes into
// the query map when the field is already a query parameter or the request
// has any query parameters; failing that, into a top-level key of a JSON
// object body, or into the query when there is no body. A body that is not
// a JSON object is left unmutated.
func mutateRequest(req *AdapterRequest, field, value string) *AdapterRequest {
	clone := *req
	clone.Headers = cloneStringMap(req.Headers)
	clone.Query = cloneStringMap(req.Query)

	if strings.HasPrefix(field, "header:") {
		clone.Headers[strings.TrimPrefix(field, "header:")] = value
		return &clone
	}
	if _, ok := clone.Query[field]; ok || len(req.Query) > 0 {
		clone.Query[field] = value
		return &clone
	}
	if len(req.Body) > 0 {
		var payload map[string]any
		if json.Unmarshal(req.Body, &payload) == nil {
			payload[field] = value
			if encoded, err := json.Marshal(payload); err == nil {
				clone.Body = encoded
			}
		}
	} else {
		clone.Query[field] = value
	}
	return &clone
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type fuzzSummary struct {
	TotalCases       int           `json:"total_cases"`
	ServerErrors     int           `json:"server_errors"`
	ClientErrors     int           `json:"client_errors"`
	Timeouts         int           `json:"timeouts"`
	ConnectionErrors int           `json:"connection_errors"`
	Anomalies        int           `json:"anomalies"`
	Findings         []fuzzFinding `json:"findings"`
}

func summarizeFuzz(cases []fuzzCase, results []fuzzCaseResult) fuzzSummary {
	var s fuzzSummary
	s.TotalCases = len(cases)
	for i, r := range results {
		c := cases[i]
		switch {
		case r.err != nil && strings.Contains(strings.ToLower(r.err.Error()), "timeout"):
			s.Timeouts++
			s.Findings = append(s.Findings, finding(c, 0, "timeout"))
		case r.err != nil:
			s.ConnectionErrors++
			s.Findings = append(s.Findings, finding(c, 0, "connection_error"))
		case r.status >= 500:
			s.ServerErrors++
			s.Findings = append(s.Findings, finding(c, r.status, "server_error"))
		case r.status >= 400:
			s.ClientErrors++
		default:
			if reflectsPayload(r.body, c.Payload.Value) {
				s.Anomalies++
				s.Findings = append(s.Findings, finding(c, r.status, "anomaly"))
			}
		}
	}
	return s
}

func finding(c fuzzCase, status int, kind string) fuzzFinding {
	return fuzzFinding{
		Field:      c.Field,
		Payload:    c.Payload.Value,
		Category:   string(c.Payload.Category),
		RiskLevel:  c.Payload.RiskLevel,
		StatusCode: status,
		Kind:       kind,
	}
}

// reflectsPayload reports whether a response body echoes back an
// unescaped, non-trivial payload verbatim — a coarse signal that the
// target failed to sanitize the injected value.
func reflectsPayload(body []byte, payload string) bool {
	if len(payload) < 4 {
		return false
	}
	return strings.Contains(string(body), payload)
}
