package workflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

// queryCache avoids recompiling the same JSON-query expression for every
// iteration of a repeat/foreach loop, mirroring the template engine's
// compile-once-render-many shape.
var (
	queryCacheMu sync.Mutex
	queryCache   = map[string]*gojq.Code{}
)

func compileQuery(expr string) (*gojq.Code, error) {
	queryCacheMu.Lock()
	if code, ok := queryCache[expr]; ok {
		queryCacheMu.Unlock()
		return code, nil
	}
	queryCacheMu.Unlock()

	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("could not compile query %q: %w", expr, err)
	}

	queryCacheMu.Lock()
	queryCache[expr] = code
	queryCacheMu.Unlock()
	return code, nil
}

// RunJSONQuery evaluates a gojq-dialect expression against decoded JSON
// input and collects every emitted result. A query producing zero results
// is reported via ok=false so callers (extraction) can stay silent on it
// per the invariant in spec §8.4.
func RunJSONQuery(expr string, input any) (results []any, ok bool, err error) {
	code, err := compileQuery(expr)
	if err != nil {
		return nil, false, newErr(KindAssertion, "", "", err)
	}

	iter := code.Run(input)
	for {
		v, has := iter.Next()
		if !has {
			break
		}
		if e, isErr := v.(error); isErr {
			return nil, false, newErr(KindAssertion, "", "", e)
		}
		results = append(results, v)
	}
	return results, len(results) > 0, nil
}

// ExtractJSON runs a JSON-query expression against a response body and
// returns the single-value result used for the `extract` map: the first
// emitted value, or the full slice when the query fans out to more than one
// result. Returns ok=false (no error) when the query legitimately produces
// nothing, matching spec §4.5/§8.4.
func ExtractJSON(body []byte, expr string) (any, bool, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false, newErr(KindAssertion, "", "extract", fmt.Errorf("response body is not valid JSON: %w", err))
	}
	results, ok, err := RunJSONQuery(expr, decoded)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(results) == 1 {
		return results[0], true, nil
	}
	return results, true, nil
}
