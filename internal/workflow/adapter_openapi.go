package workflow

import (
	"context"
	"os"
	"strings"

	"github.com/pb33f/libopenapi"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
)

// OpenApiAdapter resolves an operationId against a loaded OpenAPI 3
// document and issues the matching request through the HTTP adapter,
// grounded on the teacher's pkg/core/tools/spec_ingester/openapi_parser.go
// path/method walk.
type OpenApiAdapter struct {
	http *HTTPAdapter
}

func NewOpenApiAdapter(http *HTTPAdapter) *OpenApiAdapter {
	return &OpenApiAdapter{http: http}
}

func (a *OpenApiAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	cfg := req.Step.OpenAPI
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "openapi", "openapi step missing openapi config")
	}

	data, err := os.ReadFile(cfg.SpecPath)
	if err != nil {
		return nil, newErrf(KindIO, req.Step.Name, "openapi.spec_path", "reading OpenAPI document %q: %v", cfg.SpecPath, err)
	}
	doc, err := libopenapi.NewDocument(data)
	if err != nil {
		return nil, newErrf(KindParse, req.Step.Name, "openapi.spec_path", "parsing OpenAPI document %q: %v", cfg.SpecPath, err)
	}
	model, errs := doc.BuildV3Model()
	if errs != nil && model == nil {
		return nil, newErrf(KindParse, req.Step.Name, "openapi.spec_path", "building OpenAPI v3 model for %q: %v", cfg.SpecPath, errs)
	}

	method, path, op := findOperation(model.Model.Paths, cfg.OperationID)
	if op == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "openapi.operation_id", "operation %q not found in %q", cfg.OperationID, cfg.SpecPath)
	}

	baseURL := req.URL
	fullURL := strings.TrimRight(baseURL, "/") + path

	resolved := &AdapterRequest{
		Step:            req.Step,
		Method:          method,
		URL:             fullURL,
		Headers:         req.Headers,
		Query:           req.Query,
		Body:            req.Body,
		ContentType:     req.ContentType,
		Timeout:         req.Timeout,
		ClientOverrides: req.ClientOverrides,
	}
	return a.http.Do(ctx, resolved, store)
}

func findOperation(paths *v3.Paths, operationID string) (method, path string, op *v3.Operation) {
	if paths == nil {
		return "", "", nil
	}
	for pair := paths.PathItems.First(); pair != nil; pair = pair.Next() {
		p := pair.Key()
		item := pair.Value()
		candidates := map[string]*v3.Operation{
			"GET": item.Get, "POST": item.Post, "PUT": item.Put,
			"DELETE": item.Delete, "PATCH": item.Patch,
			"HEAD": item.Head, "OPTIONS": item.Options,
		}
		for m, candidate := range candidates {
			if candidate == nil {
				continue
			}
			if candidate.OperationId == operationID {
				return m, p, candidate
			}
		}
	}
	return "", "", nil
}
