package workflow

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"
)

// RunOptions carries every run-scoped override the CLI accepts, mirroring
// the teacher's cobra-flag-to-struct pattern in cmd/falcon/main.go.
type RunOptions struct {
	Environment       string
	CLIVars           []string
	Tags              []string
	Include           []string
	Exclude           []string
	FailFast          bool
	ContinueOnFailure bool
	DryRun            bool
	MaxRetries        int
	Timeout           time.Duration
	SessionReadOnly   bool
	EnvAllowList      []string
	SaveResponsesDir  string
	Stdout            io.Writer
}

// Engine owns one run's dispatcher, script host, and session store. A fresh
// Engine is created per invocation of `quicpulse run`.
type Engine struct {
	dispatcher *Dispatcher
	scripts    *ScriptHost
	sessions   *SessionStore
}

// NewEngine wires a dispatcher and script host against the given session
// store (nil disables session persistence for the run).
func NewEngine(sessions *SessionStore) *Engine {
	return &Engine{
		dispatcher: NewDispatcher(sessions),
		scripts:    NewScriptHost(),
		sessions:   sessions,
	}
}

// Run executes every selected step of wf in dependency order, applying
// control flow, retries, extraction, assertions, and persistence, and
// returns the completed Result document described in spec.md §6.
func (e *Engine) Run(ctx context.Context, wf *Workflow, opts RunOptions) (*RunResult, error) {
	vars := ApplyEnvironment(wf, opts.Environment)
	if err := ApplyCLIVariables(vars, opts.CLIVars); err != nil {
		return nil, err
	}

	store := NewVariableStore()
	for k, v := range vars {
		store.Set(k, v)
	}
	if err := store.LoadDotenv(wf.Dotenv); err != nil {
		return nil, err
	}
	ProjectEnv(store, opts.EnvAllowList)

	selected := FilterSteps(wf.Steps, opts.Tags, opts.Include, opts.Exclude)
	var ordered []*Step
	if HasDependencies(selected) {
		order, err := GetExecutionOrder(selected)
		if err != nil {
			return nil, err
		}
		ordered = order
	} else {
		ordered = selected
	}

	var results []*StepResult
	for _, st := range ordered {
		stepResults, aborted, err := e.runStep(ctx, st, store, wf, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, stepResults...)
		if aborted {
			break
		}
	}

	if e.sessions != nil {
		if err := e.sessions.Save(); err != nil {
			return nil, err
		}
	}

	return &RunResult{
		Name:        wf.Name,
		Description: wf.Description,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Summary:     Summarize(results),
		Steps:       results,
	}, nil
}

// runStep evaluates skip_if, expands control flow into one or more
// iterations, and runs each iteration. It returns whether the run as a
// whole should stop, which is governed solely by ContinueOnFailure
// (defaulting to false, i.e. stop): a step's own fail_fast only controls
// whether *this step's* repeat/foreach/while_condition iterations cut short,
// not whether the run moves on to the next step.
func (e *Engine) runStep(ctx context.Context, st *Step, store *VariableStore, wf *Workflow, opts RunOptions) ([]*StepResult, bool, error) {
	skip, err := e.evalSkip(st, store)
	if err != nil {
		return nil, false, err
	}
	if skip {
		return []*StepResult{{Name: st.Name, Method: effectiveMethod(st), URL: st.URL, Skipped: true}}, false, nil
	}

	if st.Delay != "" {
		d, _ := time.ParseDuration(st.Delay)
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, true, ctx.Err()
			}
		}
	}

	iterations, err := e.planIterations(st, store)
	if err != nil {
		return nil, false, err
	}

	var results []*StepResult
	for i, binding := range iterations {
		store.Set("_iteration", i)
		store.Set("_index", i)
		if binding != nil {
			store.Set(st.EffectiveForeachVar(), binding)
		}

		result, err := e.runOneAttempt(ctx, st, store, wf, opts, i)
		if err != nil {
			return nil, false, err
		}
		results = append(results, result)

		if !result.Passed() && (st.EffectiveFailFast() || opts.FailFast) {
			break
		}

		if st.WhileCondition != "" {
			cont, err := e.scripts.EvalCondition(st.WhileCondition, store, nil)
			if err != nil {
				return results, false, err
			}
			if !cont {
				break
			}
		}
	}

	anyFailed := false
	for _, r := range results {
		if !r.Passed() && !r.Skipped {
			anyFailed = true
		}
	}
	return results, anyFailed && !opts.ContinueOnFailure, nil
}

// planIterations resolves repeat/foreach/while_condition into the ordered
// list of per-iteration bindings (nil when the step has no foreach
// binding). A plain step with no control-flow field yields exactly one
// nil-bound iteration.
func (e *Engine) planIterations(st *Step, store *VariableStore) ([]any, error) {
	switch {
	case st.Repeat > 0:
		out := make([]any, st.Repeat)
		return out, nil

	case st.Foreach != "":
		items, err := e.resolveForeachItems(st.Foreach, store)
		if err != nil {
			return nil, err
		}
		return items, nil

	case st.WhileCondition != "":
		max := st.MaxIterations
		if max <= 0 {
			max = 100
		}
		// The while loop runs at least one iteration; planIterations returns a
		// placeholder slice of max length, and runStep breaks early once the
		// condition evaluates false after each attempt.
		out := make([]any, max)
		return out, nil

	default:
		return []any{nil}, nil
	}
}

func (e *Engine) resolveForeachItems(expr string, store *VariableStore) ([]any, error) {
	if v, ok := store.Lookup(expr); ok {
		if list, ok := v.([]any); ok {
			return list, nil
		}
		return nil, newErrf(KindArgument, "", "foreach", "foreach variable %q is not a list", expr)
	}
	rendered, err := RenderString(expr, store, true)
	if err != nil {
		return nil, err
	}
	decoded := ToJSONValue(rendered)
	list, ok := decoded.([]any)
	if !ok {
		return nil, newErrf(KindArgument, "", "foreach", "foreach expression %q did not resolve to a list", expr)
	}
	return list, nil
}

func (e *Engine) evalSkip(st *Step, store *VariableStore) (bool, error) {
	if st.SkipIf == "" {
		return false, nil
	}
	return e.scripts.EvalCondition(st.SkipIf, store, nil)
}

// runOneAttempt builds one templated request, dispatches it (with retry),
// runs pre/post scripts, extraction, and assertions, and returns the
// StepResult for this iteration.
func (e *Engine) runOneAttempt(ctx context.Context, st *Step, store *VariableStore, wf *Workflow, opts RunOptions, iteration int) (*StepResult, error) {
	req, reqData, err := e.buildRequest(st, store, wf, opts)
	if err != nil {
		return &StepResult{Name: st.Name, Method: effectiveMethod(st), URL: st.URL, Error: err.Error(), Iteration: iteration}, nil
	}

	if (st.Curl || opts.DryRun) && opts.Stdout != nil {
		fmt.Fprintln(opts.Stdout, BuildCurlCommand(req))
	}

	if opts.DryRun {
		return &StepResult{Name: st.Name, Method: req.Method, URL: req.URL, Iteration: iteration}, nil
	}

	if st.PreScript != nil {
		if _, err := e.scripts.RunScript(st.PreScript, store, reqData, nil); err != nil {
			return &StepResult{Name: st.Name, Method: req.Method, URL: req.URL, Error: err.Error(), Iteration: iteration}, nil
		}
	}

	retries := effectiveRetries(st.Retries, opts.MaxRetries)
	retryDelay, _ := time.ParseDuration(st.RetryDelay)

	attempt := func(ctx context.Context) (*AdapterOutcome, error) {
		return e.dispatcher.Dispatch(ctx, req, store)
	}

	// evaluate runs post-script, extraction, and assertions for one
	// dispatch outcome. It is invoked once per attempt, inside the retry
	// loop, so a retry decision can be based on the attempt's full
	// passed-ness (assertions included), not just its status code — per
	// spec.md's "retried when !passed && !skipped && !dry_run" rule.
	evaluate := func(outcome *AdapterOutcome) (*attemptResult, error) {
		respData := responseFromOutcome(outcome)

		if st.PostScript != nil {
			scriptResult, err := e.scripts.RunScript(st.PostScript, store, reqData, respData)
			if err != nil {
				return nil, err
			}
			for k, v := range scriptResult.Variables {
				store.Set(k, v)
			}
		}

		extracted := make(map[string]any, len(st.Extract))
		for name, expr := range st.Extract {
			value, ok, _ := ExtractJSON(outcome.Body, expr)
			if ok {
				store.Set(name, value)
				extracted[name] = value
			}
		}

		assertCfg := st.Assert
		if st.Kind == StepKindBench && assertCfg != nil && assertCfg.Latency != "" {
			// The bench adapter's mandatory p95 check (below) supersedes a
			// plain assert.latency, which would otherwise compare against
			// the whole benchmark run's wall-clock time instead of a
			// per-request percentile.
			clone := *assertCfg
			clone.Latency = ""
			assertCfg = &clone
		}

		resp := &AdapterResponse{StatusCode: outcome.StatusCode, Headers: outcome.Headers, Body: outcome.Body, Elapsed: outcome.Elapsed}
		scriptRunner := func(cfg *ScriptConfig, r *AdapterResponse) (bool, string, error) {
			sr, err := e.scripts.RunScript(cfg, store, reqData, respData)
			if err != nil {
				return false, "", err
			}
			return sr.Passed, sr.Message, nil
		}
		assertions := EvaluateAssertions(assertCfg, resp, scriptRunner)
		assertions = injectAdapterAssertions(st, outcome, assertions)

		return &attemptResult{
			Outcome:    outcome,
			Passed:     stepAssertionsPassed(assertions),
			Assertions: assertions,
			Extracted:  extracted,
		}, nil
	}

	res, dispatchErr, attempts := runWithRetry(ctx, retries, retryDelay, st.RetryOn, attempt, evaluate)

	result := &StepResult{
		Name:      st.Name,
		Method:    req.Method,
		URL:       req.URL,
		Iteration: iteration,
		Attempts:  attempts + 1,
	}
	if dispatchErr != nil {
		result.Error = dispatchErr.Error()
		return result, nil
	}

	status := res.Outcome.StatusCode
	result.StatusCode = &status
	result.Elapsed = res.Outcome.Elapsed
	result.ElapsedMs = res.Outcome.Elapsed.Milliseconds()
	result.Assertions = res.Assertions

	if len(res.Extracted) > 0 || len(res.Outcome.Extra) > 0 {
		result.Extracted = make(map[string]any, len(res.Extracted)+len(res.Outcome.Extra))
		for k, v := range res.Extracted {
			result.Extracted[k] = v
		}
		for k, v := range res.Outcome.Extra {
			result.Extracted[k] = v
		}
	}

	if st.Save != nil {
		dir := st.Save.Dir
		if dir == "" {
			dir = opts.SaveResponsesDir
		}
		if dir != "" {
			if _, err := SaveResponseDump(dir, result, st.Save, res.Outcome, time.Now()); err != nil {
				result.Error = err.Error()
			}
		}
	}

	return result, nil
}

// stepAssertionsPassed mirrors StepResult.Passed()'s assertion loop, used
// by the retry evaluator before a StepResult even exists.
func stepAssertionsPassed(assertions []AssertionResult) bool {
	for _, a := range assertions {
		if !a.Passed {
			return false
		}
	}
	return true
}

// buildRequest resolves method/URL/headers/body templates (strict unless
// dry-run, per §9's lenient-dialect contract). Header precedence is
// workflow -> step here; the HTTP adapter then overlays persisted session
// headers/cookies on top of these (overriding both), and finally injects
// auth last, so auth can never be silently shadowed by a stored session
// header.
func (e *Engine) buildRequest(st *Step, store *VariableStore, wf *Workflow, opts RunOptions) (*AdapterRequest, *RequestData, error) {
	strict := !opts.DryRun

	url, err := renderField(st.URL, store, strict)
	if err != nil {
		return nil, nil, err
	}
	if wf.BaseURL != "" && !isAbsoluteURL(url) {
		url = joinBaseURL(wf.BaseURL, url)
	}

	method := effectiveMethod(st)

	headers := make(map[string]string)
	for k, v := range wf.Headers {
		headers[k] = v
	}
	for k, v := range st.Headers {
		rendered, err := renderField(v, store, strict)
		if err != nil {
			return nil, nil, err
		}
		headers[k] = rendered
	}

	query := make(map[string]string, len(st.Query))
	for k, v := range st.Query {
		rendered, err := renderField(v, store, strict)
		if err != nil {
			return nil, nil, err
		}
		query[k] = rendered
	}

	body, contentType, err := e.buildBody(st, store, strict)
	if err != nil {
		return nil, nil, err
	}

	timeout := opts.Timeout
	if st.Timeout != "" {
		if d, err := time.ParseDuration(st.Timeout); err == nil {
			timeout = d
		}
	}

	req := &AdapterRequest{
		Step:            st,
		Method:          method,
		URL:             url,
		Headers:         headers,
		Query:           query,
		Body:            body,
		ContentType:     contentType,
		Timeout:         timeout,
		ClientOverrides: st.ClientOverrides(),
	}
	reqData := &RequestData{Method: method, URL: url, Headers: headers, Body: string(body)}
	return req, reqData, nil
}

func (e *Engine) buildBody(st *Step, store *VariableStore, strict bool) ([]byte, string, error) {
	switch {
	case st.JSONBody != nil:
		var rendered string
		var err error
		if strict {
			rendered, err = RenderJSONTemplate(st.JSONBody, store)
		} else {
			rendered, err = RenderString(string(st.JSONBody), store, false)
		}
		if err != nil {
			return nil, "", err
		}
		return []byte(rendered), "application/json", nil
	case st.RawText != "":
		rendered, err := renderField(st.RawText, store, strict)
		if err != nil {
			return nil, "", err
		}
		return []byte(rendered), "text/plain", nil
	case len(st.UrlencodedForm) > 0:
		form := make(map[string]string, len(st.UrlencodedForm))
		for k, v := range st.UrlencodedForm {
			rendered, err := renderField(v, store, strict)
			if err != nil {
				return nil, "", err
			}
			form[k] = rendered
		}
		return []byte(encodeURLValues(form)), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

func renderField(s string, store *VariableStore, strict bool) (string, error) {
	if s == "" {
		return "", nil
	}
	return RenderString(s, store, strict)
}

func effectiveMethod(st *Step) string {
	if st.Method == "" {
		return "GET"
	}
	return st.Method
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}

func joinBaseURL(base, path string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}
	return base + path
}

func encodeURLValues(form map[string]string) string {
	values := make(url.Values, len(form))
	for k, v := range form {
		values.Set(k, v)
	}
	return values.Encode()
}
