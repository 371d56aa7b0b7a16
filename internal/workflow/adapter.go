package workflow

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// AdapterRequest is the already-templated request data an adapter consumes.
// URL, headers, and body have already had templating applied; session
// cookies/headers and step auth are applied by the HTTP adapter when it
// builds the outgoing request.
type AdapterRequest struct {
	Step            *Step
	Method          string
	URL             string
	Headers         map[string]string
	Query           map[string]string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Timeout         time.Duration
	ClientOverrides ClientOverrides
}

// AdapterOutcome is the uniform result every adapter maps its
// protocol-specific response into, regardless of whether the underlying
// exchange was HTTP, gRPC, or WebSocket.
type AdapterOutcome struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Elapsed    time.Duration
	Extra      map[string]any // adapter-specific values; runOneAttempt promotes these into StepResult.Extracted, e.g. bench percentiles and fuzz finding counts
}

// Adapter is the per-protocol module that issues one step's request.
type Adapter interface {
	Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error)
}

// clientCache builds a per-step *http.Client only when overrides are
// non-empty, caching by fingerprint so steps sharing identical overrides
// reuse one client's connection pool instead of rebuilding per step, per
// the Design Notes' re-architecture guidance for "ad-hoc client construction".
type clientCache struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func newClientCache() *clientCache {
	return &clientCache{clients: make(map[string]*http.Client)}
}

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

func (c *clientCache) get(overrides ClientOverrides) (*http.Client, error) {
	if overrides.IsZero() {
		return defaultHTTPClient, nil
	}
	fp := overrides.Fingerprint()
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[fp]; ok {
		return cl, nil
	}
	cl, err := buildHTTPClient(overrides)
	if err != nil {
		return nil, err
	}
	c.clients[fp] = cl
	return cl, nil
}
