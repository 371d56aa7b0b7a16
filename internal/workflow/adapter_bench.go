package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BenchAdapter drives a fixed number of requests at a bounded concurrency
// and reports throughput and latency percentiles, per §4.4's benchmark
// contract.
type BenchAdapter struct {
	http *HTTPAdapter
}

func NewBenchAdapter(http *HTTPAdapter) *BenchAdapter {
	return &BenchAdapter{http: http}
}

type benchSummary struct {
	Requests     int     `json:"requests"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	DurationMS   int64   `json:"duration_ms"`
	RequestsPerS float64 `json:"requests_per_second"`
	P50MS        float64 `json:"p50_ms"`
	P95MS        float64 `json:"p95_ms"`
	P99MS        float64 `json:"p99_ms"`
}

func (a *BenchAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	cfg := req.Step.Bench
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "bench", "bench step missing bench config")
	}
	if cfg.Requests <= 0 {
		return nil, newErrf(KindArgument, req.Step.Name, "bench.requests", "bench.requests must be positive")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var limiter *rate.Limiter
	if cfg.Duration != "" {
		d, err := time.ParseDuration(cfg.Duration)
		if err != nil {
			return nil, newErrf(KindArgument, req.Step.Name, "bench.duration", "invalid duration %q: %v", cfg.Duration, err)
		}
		if d > 0 {
			perSecond := float64(cfg.Requests) / d.Seconds()
			limiter = rate.NewLimiter(rate.Limit(perSecond), concurrency)
		}
	}

	latencies := make([]time.Duration, cfg.Requests)
	statuses := make([]int, cfg.Requests)
	errs := make([]error, cfg.Requests)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < cfg.Requests; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					errs[i] = err
					return
				}
			}
			reqStart := time.Now()
			outcome, err := a.http.Do(ctx, req, nil)
			latencies[i] = time.Since(reqStart)
			if err != nil {
				errs[i] = err
				return
			}
			statuses[i] = outcome.StatusCode
		}(i)
	}
	wg.Wait()
	total := time.Since(start)

	summary := benchSummary{Requests: cfg.Requests, DurationMS: total.Milliseconds()}
	var sorted []time.Duration
	for i := range latencies {
		if errs[i] != nil || statuses[i] >= 500 {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		sorted = append(sorted, latencies[i])
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	summary.P50MS = percentileMS(sorted, 0.50)
	summary.P95MS = percentileMS(sorted, 0.95)
	summary.P99MS = percentileMS(sorted, 0.99)
	if total > 0 {
		summary.RequestsPerS = float64(cfg.Requests) / total.Seconds()
	}

	body, _ := json.Marshal(summary)
	return &AdapterOutcome{
		StatusCode: 0,
		Body:       body,
		Elapsed:    total,
		Extra: map[string]any{
			"requests_per_second": summary.RequestsPerS,
			"p50_ms":              summary.P50MS,
			"p95_ms":              summary.P95MS,
			"p99_ms":              summary.P99MS,
			"succeeded":           summary.Succeeded,
			"failed":              summary.Failed,
		},
	}, nil
}

func percentileMS(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx]) / float64(time.Millisecond)
}
