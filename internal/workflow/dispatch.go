package workflow

import (
	"context"
	"encoding/json"
)

// Dispatcher owns one instance of every adapter for the life of a run and
// routes each step to the adapter matching its resolved StepKind, per
// spec.md §4's "exactly one adapter per step" contract.
type Dispatcher struct {
	http      *HTTPAdapter
	grpc      *GrpcAdapter
	websocket *WebSocketAdapter
	fuzz      *FuzzAdapter
	bench     *BenchAdapter
	har       *HarAdapter
	openapi   *OpenApiAdapter
}

// NewDispatcher wires every adapter against one shared HTTP transport,
// session store, and gRPC descriptor cache for the run.
func NewDispatcher(sessions *SessionStore) *Dispatcher {
	http := NewHTTPAdapter(sessions)
	return &Dispatcher{
		http:      http,
		grpc:      NewGrpcAdapter(),
		websocket: NewWebSocketAdapter(),
		fuzz:      NewFuzzAdapter(http),
		bench:     NewBenchAdapter(http),
		har:       NewHarAdapter(http),
		openapi:   NewOpenApiAdapter(http),
	}
}

// Dispatch routes req to the adapter matching req.Step.Kind. GraphQL steps
// are composed into a JSON POST body here rather than through a dedicated
// adapter, since a GraphQL call is an HTTP request with a structured body.
func (d *Dispatcher) Dispatch(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	switch req.Step.Kind {
	case StepKindGraphQL:
		composed, err := composeGraphQL(req)
		if err != nil {
			return nil, err
		}
		return d.http.Do(ctx, composed, store)
	case StepKindGrpc:
		return d.grpc.Do(ctx, req, store)
	case StepKindWebSocket:
		return d.websocket.Do(ctx, req, store)
	case StepKindFuzz:
		return d.fuzz.Do(ctx, req, store)
	case StepKindBench:
		return d.bench.Do(ctx, req, store)
	case StepKindHar:
		return d.har.Do(ctx, req, store)
	case StepKindOpenAPI:
		return d.openapi.Do(ctx, req, store)
	case StepKindDownload, StepKindUpload, StepKindHTTP:
		return d.http.Do(ctx, req, store)
	default:
		return nil, newErrf(KindArgument, req.Step.Name, "kind", "unhandled step kind %q", req.Step.Kind)
	}
}

// composeGraphQL builds the {query, operationName, variables} JSON body a
// GraphQL endpoint expects and forces the method/content-type to match.
func composeGraphQL(req *AdapterRequest) (*AdapterRequest, error) {
	cfg := req.Step.GraphQL
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "graphql", "graphql step missing graphql config")
	}
	payload := map[string]any{"query": cfg.Query}
	if cfg.OperationName != "" {
		payload["operationName"] = cfg.OperationName
	}
	if len(cfg.Variables) > 0 {
		payload["variables"] = cfg.Variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newErrf(KindArgument, req.Step.Name, "graphql", "encoding GraphQL body: %v", err)
	}

	clone := *req
	clone.Method = "POST"
	clone.Body = body
	clone.ContentType = "application/json"
	clone.Headers = cloneStringMap(req.Headers)
	if clone.Headers["Content-Type"] == "" {
		clone.Headers["Content-Type"] = "application/json"
	}
	return &clone, nil
}
