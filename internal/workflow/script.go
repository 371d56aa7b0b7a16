package workflow

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/dop251/goja"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RequestData is the read-only view of a step's outgoing request exposed to
// scripts.
type RequestData struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// ResponseData is the read-only view of a step's response exposed to
// scripts and to skip_if/while_condition/assert expressions.
type ResponseData struct {
	StatusCode int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Json       any               `json:"json"`
	ElapsedMS  int64             `json:"elapsed_ms"`
}

// ScriptResult is what a post_script/script_assert run hands back: any
// variables it wants set in the run's VariableStore, plus, for
// script_assert, a pass/fail verdict.
type ScriptResult struct {
	Variables map[string]any
	Passed    bool
	Message   string
}

// ScriptHost is the single long-lived runtime backing every script-kind
// step in a run: one goja VM reused across JavaScript scripts (matching
// goja's documented single-goroutine, reusable-runtime model), and one
// expr-lang program cache for Rune-style expressions, grounded on
// tombee-conductor/pkg/workflow/expression's compile-and-cache evaluator.
type ScriptHost struct {
	mu        sync.Mutex
	vm        *goja.Runtime
	exprCache map[string]*vm.Program
}

func NewScriptHost() *ScriptHost {
	return &ScriptHost{vm: goja.New(), exprCache: make(map[string]*vm.Program)}
}

// EvalCondition evaluates a Rune-style boolean expression (used for
// skip_if, while_condition, and assert.script of type "rune") against the
// current variable store and, when present, the last response. An empty
// expression is always true.
func (h *ScriptHost) EvalCondition(expression string, store *VariableStore, resp *ResponseData) (bool, error) {
	if expression == "" {
		return true, nil
	}

	h.mu.Lock()
	program, ok := h.exprCache[expression]
	h.mu.Unlock()

	if !ok {
		env := exprEnv(store, resp)
		compiled, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return false, newErrf(KindScript, "", "expression", "compiling expression %q: %v", expression, err)
		}
		h.mu.Lock()
		h.exprCache[expression] = compiled
		h.mu.Unlock()
		program = compiled
	}

	result, err := expr.Run(program, exprEnv(store, resp))
	if err != nil {
		return false, newErrf(KindScript, "", "expression", "evaluating expression %q: %v", expression, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, newErrf(KindScript, "", "expression", "expression %q must evaluate to a boolean, got %T", expression, result)
	}
	return b, nil
}

func exprEnv(store *VariableStore, resp *ResponseData) map[string]any {
	env := store.Snapshot()
	if resp != nil {
		env["response"] = resp
		env["status"] = resp.StatusCode
		env["body"] = resp.Body
		env["json"] = resp.Json
	}
	return env
}

// RunScript executes a JavaScript (goja) or Rune (expr) script for
// pre_script/post_script/script_assert, injecting `vars`, `request`, and
// `response` bindings and, for JS, a `setVar(name, value)` host function
// that records writes into the returned ScriptResult.Variables.
func (h *ScriptHost) RunScript(cfg *ScriptConfig, store *VariableStore, req *RequestData, resp *ResponseData) (*ScriptResult, error) {
	source, lang, err := loadScript(cfg)
	if err != nil {
		return nil, err
	}

	switch lang {
	case "rune":
		ok, err := h.EvalCondition(source, store, resp)
		if err != nil {
			return nil, err
		}
		return &ScriptResult{Passed: ok}, nil
	default:
		return h.runJS(source, store, req, resp)
	}
}

func (h *ScriptHost) runJS(source string, store *VariableStore, req *RequestData, resp *ResponseData) (*ScriptResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := &ScriptResult{Variables: make(map[string]any)}

	vm := h.vm
	vm.Set("vars", store.Snapshot())
	if req != nil {
		vm.Set("request", req)
	}
	if resp != nil {
		vm.Set("response", resp)
	}
	vm.Set("setVar", func(name string, value goja.Value) {
		result.Variables[name] = value.Export()
	})
	vm.Set("assertTrue", func(ok bool, message string) {
		result.Passed = ok
		result.Message = message
	})
	vm.Set("decodeJWT", func(token string) map[string]any {
		claims, err := decodeJWTClaims(token)
		if err != nil {
			return nil
		}
		return claims
	})
	vm.Set("validateSchema", func(schema, doc string) bool {
		ok, _, err := validateJSONSchema(schema, doc)
		return err == nil && ok
	})

	val, err := vm.RunString(source)
	if err != nil {
		return nil, newErrf(KindScript, "", "script", "running script: %v", err)
	}
	if result.Message == "" {
		if b, ok := val.Export().(bool); ok {
			result.Passed = b
		} else {
			result.Passed = true
		}
	}
	return result, nil
}

func loadScript(cfg *ScriptConfig) (source, lang string, err error) {
	lang = cfg.Type
	if cfg.Inline != "" {
		source = cfg.Inline
	} else if cfg.File != "" {
		data, rerr := os.ReadFile(cfg.File)
		if rerr != nil {
			return "", "", newErrf(KindIO, "", "script.file", "reading script file %q: %v", cfg.File, rerr)
		}
		source = string(data)
		if lang == "" {
			lang = inferScriptLang(cfg.File)
		}
	} else {
		return "", "", newErrf(KindArgument, "", "script", "script step has neither inline nor file source")
	}
	if lang == "" {
		lang = "javascript"
	}
	return source, lang, nil
}

func inferScriptLang(path string) string {
	switch {
	case hasSuffix(path, ".rune"):
		return "rune"
	case hasSuffix(path, ".js"):
		return "javascript"
	default:
		return "javascript"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// responseFromOutcome adapts an AdapterOutcome into the ResponseData shape
// scripts and expressions see.
func responseFromOutcome(o *AdapterOutcome) *ResponseData {
	r := &ResponseData{StatusCode: o.StatusCode, Headers: o.Headers, Body: string(o.Body), ElapsedMS: o.Elapsed.Milliseconds()}
	var parsed any
	if json.Unmarshal(o.Body, &parsed) == nil {
		r.Json = parsed
	}
	return r
}
