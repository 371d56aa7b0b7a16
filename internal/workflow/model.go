// Package workflow implements the QuicPulse declarative pipeline runner:
// parsing, dependency resolution, templating, variable storage, assertion
// evaluation, adapter dispatch, retry/control-flow expansion, and
// reporting for a single workflow run.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// MaxWorkflowFileSize bounds the workflow document before it is parsed, to
// bound parser blow-up on hostile or corrupted input.
const MaxWorkflowFileSize = 1 << 20 // 1 MiB

// MaxSteps caps the number of steps a single workflow may declare.
const MaxSteps = 100_000

// MaxRetriesPerStep caps the effective retry count regardless of what a
// step or the run options request.
const MaxRetriesPerStep = 10

// StepKind is the tagged variant deciding which adapter executes a step.
// Computed once at parse time so the execution loop dispatches with a
// single switch instead of re-inspecting config fields per step.
type StepKind string

const (
	StepKindHTTP     StepKind = "http"
	StepKindGraphQL  StepKind = "graphql"
	StepKindGrpc     StepKind = "grpc"
	StepKindWebSocket StepKind = "websocket"
	StepKindFuzz     StepKind = "fuzz"
	StepKindBench    StepKind = "bench"
	StepKindHar      StepKind = "har"
	StepKindOpenAPI  StepKind = "openapi"
	StepKindDownload StepKind = "download"
	StepKindUpload   StepKind = "upload"
)

// Workflow is the root document: a named, ordered set of steps plus the
// variable/environment/header context they run under.
type Workflow struct {
	Name             string                    `yaml:"name" toml:"name" json:"name"`
	Description      string                    `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	BaseURL          string                    `yaml:"base_url,omitempty" toml:"base_url,omitempty" json:"base_url,omitempty"`
	Variables        map[string]any            `yaml:"variables,omitempty" toml:"variables,omitempty" json:"variables,omitempty"`
	Environments     map[string]map[string]any `yaml:"environments,omitempty" toml:"environments,omitempty" json:"environments,omitempty"`
	Headers          map[string]string         `yaml:"headers,omitempty" toml:"headers,omitempty" json:"headers,omitempty"`
	Session          string                    `yaml:"session,omitempty" toml:"session,omitempty" json:"session,omitempty"`
	SessionReadOnly  bool                      `yaml:"session_read_only,omitempty" toml:"session_read_only,omitempty" json:"session_read_only,omitempty"`
	Dotenv           string                    `yaml:"dotenv,omitempty" toml:"dotenv,omitempty" json:"dotenv,omitempty"`
	Plugins          []string                  `yaml:"plugins,omitempty" toml:"plugins,omitempty" json:"plugins,omitempty"`
	Output           *OutputConfig             `yaml:"output,omitempty" toml:"output,omitempty" json:"output,omitempty"`
	Steps            []*Step                   `yaml:"steps" toml:"steps" json:"steps"`
}

// OutputConfig is the workflow-level default for report emission.
type OutputConfig struct {
	Format string `yaml:"format,omitempty" toml:"format,omitempty" json:"format,omitempty"`
	Path   string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

// MultipartField is one field of a multipart body: text or file.
type MultipartField struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Value    string `yaml:"value,omitempty" toml:"value,omitempty" json:"value,omitempty"`
	FilePath string `yaml:"file_path,omitempty" toml:"file_path,omitempty" json:"file_path,omitempty"`
	MimeType string `yaml:"mime_type,omitempty" toml:"mime_type,omitempty" json:"mime_type,omitempty"`
}

// UploadConfig configures the single-file upload adapter variant.
type UploadConfig struct {
	FilePath    string `yaml:"file_path" toml:"file_path" json:"file_path"`
	FieldName   string `yaml:"field_name,omitempty" toml:"field_name,omitempty" json:"field_name,omitempty"`
	Compress    string `yaml:"compress,omitempty" toml:"compress,omitempty" json:"compress,omitempty"` // "deflate" | "gzip"
	ContentType string `yaml:"content_type,omitempty" toml:"content_type,omitempty" json:"content_type,omitempty"`
}

// DownloadConfig configures the download variant of the HTTP adapter.
type DownloadConfig struct {
	Path      string `yaml:"path" toml:"path" json:"path"`
	Overwrite bool   `yaml:"overwrite,omitempty" toml:"overwrite,omitempty" json:"overwrite,omitempty"`
	Resume    bool   `yaml:"resume,omitempty" toml:"resume,omitempty" json:"resume,omitempty"`
}

// GraphQLConfig carries a GraphQL query/variables body.
type GraphQLConfig struct {
	Query         string         `yaml:"query" toml:"query" json:"query"`
	OperationName string         `yaml:"operation_name,omitempty" toml:"operation_name,omitempty" json:"operation_name,omitempty"`
	Variables     map[string]any `yaml:"variables,omitempty" toml:"variables,omitempty" json:"variables,omitempty"`
}

// GrpcConfig configures the gRPC adapter.
type GrpcConfig struct {
	Target   string            `yaml:"target" toml:"target" json:"target"`
	Service  string            `yaml:"service" toml:"service" json:"service"`
	Method   string            `yaml:"method" toml:"method" json:"method"`
	Mode     string            `yaml:"mode,omitempty" toml:"mode,omitempty" json:"mode,omitempty"` // unary|server_stream|client_stream|bidi
	Message  json.RawMessage   `yaml:"message,omitempty" toml:"message,omitempty" json:"message,omitempty"`
	Messages []json.RawMessage `yaml:"messages,omitempty" toml:"messages,omitempty" json:"messages,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" toml:"metadata,omitempty" json:"metadata,omitempty"`
	Insecure bool              `yaml:"insecure,omitempty" toml:"insecure,omitempty" json:"insecure,omitempty"`
	ProtoSet string            `yaml:"proto_set,omitempty" toml:"proto_set,omitempty" json:"proto_set,omitempty"`
}

// WebSocketConfig configures the WebSocket adapter.
type WebSocketConfig struct {
	Mode        string   `yaml:"mode" toml:"mode" json:"mode"` // send|stream|listen
	Messages    []string `yaml:"messages,omitempty" toml:"messages,omitempty" json:"messages,omitempty"`
	BinaryB64   []string `yaml:"binary,omitempty" toml:"binary,omitempty" json:"binary,omitempty"`
	MaxMessages int      `yaml:"max_messages,omitempty" toml:"max_messages,omitempty" json:"max_messages,omitempty"`
	WaitFor     string   `yaml:"wait_for,omitempty" toml:"wait_for,omitempty" json:"wait_for,omitempty"`
	Insecure    bool     `yaml:"insecure,omitempty" toml:"insecure,omitempty" json:"insecure,omitempty"`
}

// FuzzConfig configures the fuzz adapter.
type FuzzConfig struct {
	Fields      []string `yaml:"fields" toml:"fields" json:"fields"`
	RiskLevel   string   `yaml:"risk_level,omitempty" toml:"risk_level,omitempty" json:"risk_level,omitempty"`
	Categories  []string `yaml:"categories,omitempty" toml:"categories,omitempty" json:"categories,omitempty"`
	Concurrency int      `yaml:"concurrency,omitempty" toml:"concurrency,omitempty" json:"concurrency,omitempty"`
}

// BenchConfig configures the benchmark adapter.
type BenchConfig struct {
	Requests    int    `yaml:"requests" toml:"requests" json:"requests"`
	Concurrency int    `yaml:"concurrency,omitempty" toml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Duration    string `yaml:"duration,omitempty" toml:"duration,omitempty" json:"duration,omitempty"`
}

// HarConfig configures HAR-entry replay.
type HarConfig struct {
	Path  string `yaml:"path" toml:"path" json:"path"`
	Entry int    `yaml:"entry,omitempty" toml:"entry,omitempty" json:"entry,omitempty"`
}

// OpenApiConfig configures an OpenAPI-document-driven request.
type OpenApiConfig struct {
	SpecPath    string `yaml:"spec_path" toml:"spec_path" json:"spec_path"`
	OperationID string `yaml:"operation_id" toml:"operation_id" json:"operation_id"`
}

// ScriptConfig is an inline or file-based script with an explicit or
// extension-inferred language.
type ScriptConfig struct {
	Inline string `yaml:"inline,omitempty" toml:"inline,omitempty" json:"inline,omitempty"`
	File   string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
	Type   string `yaml:"type,omitempty" toml:"type,omitempty" json:"type,omitempty"` // javascript|rune
}

// StepAuth names the auth variant and carries variant-specific parameters.
type StepAuth struct {
	Type         string `yaml:"type" toml:"type" json:"type"` // basic|bearer|digest|aws_sigv4|gcp|azure|oauth2_cc
	Username     string `yaml:"username,omitempty" toml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" toml:"password,omitempty" json:"password,omitempty"`
	Token        string `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"`
	Region       string `yaml:"region,omitempty" toml:"region,omitempty" json:"region,omitempty"`
	Service      string `yaml:"service,omitempty" toml:"service,omitempty" json:"service,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty" toml:"token_url,omitempty" json:"token_url,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" toml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" toml:"client_secret,omitempty" json:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" toml:"scopes,omitempty" json:"scopes,omitempty"`
}

// StatusAssertion is either an exact code or a range/class pattern string
// ("200", "200-299", "2xx").
type StatusAssertion struct {
	Pattern string
}

// StepAssertions is the assertions bundle attached to a step.
type StepAssertions struct {
	Status  string            `yaml:"status,omitempty" toml:"status,omitempty" json:"status,omitempty"`
	Latency string            `yaml:"latency,omitempty" toml:"latency,omitempty" json:"latency,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty" json:"headers,omitempty"`
	Body    []string          `yaml:"body,omitempty" toml:"body,omitempty" json:"body,omitempty"`
	Script  *ScriptConfig     `yaml:"script,omitempty" toml:"script,omitempty" json:"script,omitempty"`
}

// IsEmpty reports whether no assertions were declared for a step.
func (a *StepAssertions) IsEmpty() bool {
	return a == nil || (a.Status == "" && a.Latency == "" && len(a.Headers) == 0 && len(a.Body) == 0 && a.Script == nil)
}

// SaveConfig controls response-dump persistence for a step.
type SaveConfig struct {
	Dir            string   `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`
	IncludeHeaders []string `yaml:"include_headers,omitempty" toml:"include_headers,omitempty" json:"include_headers,omitempty"`
}

// ClientOverrides is the small value that forces a per-step HTTP client to
// be built instead of reusing the engine's default client.
type ClientOverrides struct {
	FollowRedirects *bool  `yaml:"follow_redirects,omitempty" toml:"follow_redirects,omitempty" json:"follow_redirects,omitempty"`
	MaxRedirects    int    `yaml:"max_redirects,omitempty" toml:"max_redirects,omitempty" json:"max_redirects,omitempty"`
	Proxy           string `yaml:"proxy,omitempty" toml:"proxy,omitempty" json:"proxy,omitempty"`
	Insecure        bool   `yaml:"insecure,omitempty" toml:"insecure,omitempty" json:"insecure,omitempty"`
	CACert          string `yaml:"ca_cert,omitempty" toml:"ca_cert,omitempty" json:"ca_cert,omitempty"`
	ClientCert      string `yaml:"client_cert,omitempty" toml:"client_cert,omitempty" json:"client_cert,omitempty"`
	ClientKey       string `yaml:"client_key,omitempty" toml:"client_key,omitempty" json:"client_key,omitempty"`
}

// IsZero reports whether no client override differs from the default.
func (c ClientOverrides) IsZero() bool {
	return c.FollowRedirects == nil && c.MaxRedirects == 0 && c.Proxy == "" &&
		!c.Insecure && c.CACert == "" && c.ClientCert == "" && c.ClientKey == ""
}

// Fingerprint is a cache key for per-step client reuse across steps that
// declare identical overrides.
func (c ClientOverrides) Fingerprint() string {
	redirects := "nil"
	if c.FollowRedirects != nil {
		redirects = strconv.FormatBool(*c.FollowRedirects)
	}
	return strings.Join([]string{
		redirects, strconv.Itoa(c.MaxRedirects), c.Proxy,
		strconv.FormatBool(c.Insecure), c.CACert, c.ClientCert, c.ClientKey,
	}, "|")
}

// Step is a uniform record of one unit of work in a workflow.
type Step struct {
	Name        string            `yaml:"name" toml:"name" json:"name"`
	URL         string            `yaml:"url" toml:"url" json:"url"`
	Method      string            `yaml:"method,omitempty" toml:"method,omitempty" json:"method,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" toml:"tags,omitempty" json:"tags,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty" toml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty" json:"headers,omitempty"`
	Query       map[string]string `yaml:"query,omitempty" toml:"query,omitempty" json:"query,omitempty"`

	JSONBody       json.RawMessage   `yaml:"json_body,omitempty" toml:"json_body,omitempty" json:"json_body,omitempty"`
	RawText        string            `yaml:"raw_text,omitempty" toml:"raw_text,omitempty" json:"raw_text,omitempty"`
	UrlencodedForm map[string]string `yaml:"urlencoded_form,omitempty" toml:"urlencoded_form,omitempty" json:"urlencoded_form,omitempty"`
	Multipart      []MultipartField  `yaml:"multipart,omitempty" toml:"multipart,omitempty" json:"multipart,omitempty"`
	UploadFile     *UploadConfig     `yaml:"upload_file,omitempty" toml:"upload_file,omitempty" json:"upload_file,omitempty"`

	Auth *StepAuth `yaml:"auth,omitempty" toml:"auth,omitempty" json:"auth,omitempty"`

	Extract    map[string]string `yaml:"extract,omitempty" toml:"extract,omitempty" json:"extract,omitempty"`
	Assert     *StepAssertions   `yaml:"assert,omitempty" toml:"assert,omitempty" json:"assert,omitempty"`
	SkipIf     string            `yaml:"skip_if,omitempty" toml:"skip_if,omitempty" json:"skip_if,omitempty"`
	Delay      string            `yaml:"delay,omitempty" toml:"delay,omitempty" json:"delay,omitempty"`
	Timeout    string            `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries    int               `yaml:"retries,omitempty" toml:"retries,omitempty" json:"retries,omitempty"`
	RetryDelay string            `yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	RetryOn    []int             `yaml:"retry_on,omitempty" toml:"retry_on,omitempty" json:"retry_on,omitempty"`

	Repeat         int    `yaml:"repeat,omitempty" toml:"repeat,omitempty" json:"repeat,omitempty"`
	Foreach        string `yaml:"foreach,omitempty" toml:"foreach,omitempty" json:"foreach,omitempty"`
	ForeachVar     string `yaml:"foreach_var,omitempty" toml:"foreach_var,omitempty" json:"foreach_var,omitempty"`
	WhileCondition string `yaml:"while_condition,omitempty" toml:"while_condition,omitempty" json:"while_condition,omitempty"`
	MaxIterations  int    `yaml:"max_iterations,omitempty" toml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	FailFast       *bool  `yaml:"fail_fast,omitempty" toml:"fail_fast,omitempty" json:"fail_fast,omitempty"`
	Parallel       bool   `yaml:"parallel,omitempty" toml:"parallel,omitempty" json:"parallel,omitempty"`

	FollowRedirects *bool  `yaml:"follow_redirects,omitempty" toml:"follow_redirects,omitempty" json:"follow_redirects,omitempty"`
	MaxRedirects    int    `yaml:"max_redirects,omitempty" toml:"max_redirects,omitempty" json:"max_redirects,omitempty"`
	Proxy           string `yaml:"proxy,omitempty" toml:"proxy,omitempty" json:"proxy,omitempty"`
	Insecure        bool   `yaml:"insecure,omitempty" toml:"insecure,omitempty" json:"insecure,omitempty"`
	CACert          string `yaml:"ca_cert,omitempty" toml:"ca_cert,omitempty" json:"ca_cert,omitempty"`
	ClientCert      string `yaml:"client_cert,omitempty" toml:"client_cert,omitempty" json:"client_cert,omitempty"`
	ClientKey       string `yaml:"client_key,omitempty" toml:"client_key,omitempty" json:"client_key,omitempty"`
	Compress        bool   `yaml:"compress,omitempty" toml:"compress,omitempty" json:"compress,omitempty"`

	GraphQL  *GraphQLConfig   `yaml:"graphql,omitempty" toml:"graphql,omitempty" json:"graphql,omitempty"`
	Grpc     *GrpcConfig      `yaml:"grpc,omitempty" toml:"grpc,omitempty" json:"grpc,omitempty"`
	WebSocket *WebSocketConfig `yaml:"websocket,omitempty" toml:"websocket,omitempty" json:"websocket,omitempty"`
	Fuzz     *FuzzConfig      `yaml:"fuzz,omitempty" toml:"fuzz,omitempty" json:"fuzz,omitempty"`
	Bench    *BenchConfig     `yaml:"bench,omitempty" toml:"bench,omitempty" json:"bench,omitempty"`
	Har      *HarConfig       `yaml:"har,omitempty" toml:"har,omitempty" json:"har,omitempty"`
	OpenAPI  *OpenApiConfig   `yaml:"openapi,omitempty" toml:"openapi,omitempty" json:"openapi,omitempty"`
	Download *DownloadConfig  `yaml:"download,omitempty" toml:"download,omitempty" json:"download,omitempty"`

	PreScript    *ScriptConfig `yaml:"pre_script,omitempty" toml:"pre_script,omitempty" json:"pre_script,omitempty"`
	PostScript   *ScriptConfig `yaml:"post_script,omitempty" toml:"post_script,omitempty" json:"post_script,omitempty"`
	ScriptAssert *ScriptConfig `yaml:"script_assert,omitempty" toml:"script_assert,omitempty" json:"script_assert,omitempty"`

	Save *SaveConfig `yaml:"save,omitempty" toml:"save,omitempty" json:"save,omitempty"`
	Curl bool         `yaml:"curl,omitempty" toml:"curl,omitempty" json:"curl,omitempty"`

	// Kind is resolved once by resolveKind() after parse, not read from
	// the document directly.
	Kind StepKind `yaml:"-" toml:"-" json:"-"`
}

// EffectiveForeachVar returns the binding name for foreach iterations,
// defaulting to "item".
func (s *Step) EffectiveForeachVar() string {
	if s.ForeachVar == "" {
		return "item"
	}
	return s.ForeachVar
}

// EffectiveFailFast returns the fail_fast value for control-flow expansion,
// defaulting to true.
func (s *Step) EffectiveFailFast() bool {
	if s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// ClientOverrides extracts the per-step client override value.
func (s *Step) ClientOverrides() ClientOverrides {
	return ClientOverrides{
		FollowRedirects: s.FollowRedirects,
		MaxRedirects:    s.MaxRedirects,
		Proxy:           s.Proxy,
		Insecure:        s.Insecure,
		CACert:          s.CACert,
		ClientCert:      s.ClientCert,
		ClientKey:       s.ClientKey,
	}
}

// bodyVariantsSet returns the names of the body variants set on the step.
func (s *Step) bodyVariantsSet() []string {
	var set []string
	if s.JSONBody != nil {
		set = append(set, "json_body")
	}
	if s.RawText != "" {
		set = append(set, "raw_text")
	}
	if len(s.UrlencodedForm) > 0 {
		set = append(set, "urlencoded_form")
	}
	if len(s.Multipart) > 0 {
		set = append(set, "multipart")
	}
	if s.UploadFile != nil {
		set = append(set, "upload_file")
	}
	return set
}

// resolveKind computes the StepKind in the fixed priority order:
// grpc > websocket > fuzz > bench > har > openapi > download > upload > graphql > http.
func (s *Step) resolveKind() {
	switch {
	case s.Grpc != nil:
		s.Kind = StepKindGrpc
	case s.WebSocket != nil:
		s.Kind = StepKindWebSocket
	case s.Fuzz != nil:
		s.Kind = StepKindFuzz
	case s.Bench != nil:
		s.Kind = StepKindBench
	case s.Har != nil:
		s.Kind = StepKindHar
	case s.OpenAPI != nil:
		s.Kind = StepKindOpenAPI
	case s.Download != nil:
		s.Kind = StepKindDownload
	case s.UploadFile != nil:
		s.Kind = StepKindUpload
	case s.GraphQL != nil:
		s.Kind = StepKindGraphQL
	default:
		s.Kind = StepKindHTTP
	}
}

// LoadWorkflow reads and parses a workflow document, dispatching to YAML or
// TOML by extension with a fallback attempt at the other format, then
// validates it. File size is capped before parsing.
func LoadWorkflow(path string) (*Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newErr(KindIO, "", "", err)
	}
	if info.Size() > MaxWorkflowFileSize {
		return nil, newErrf(KindSize, "", "path", "workflow file %q exceeds %d bytes", path, MaxWorkflowFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(KindIO, "", "", err)
	}

	wf, err := parseWorkflowBytes(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func parseWorkflowBytes(data []byte, ext string) (*Workflow, error) {
	var wf Workflow
	tryYAML := func() error { return yaml.Unmarshal(data, &wf) }
	tryTOML := func() error { return toml.Unmarshal(data, &wf) }

	var primary, fallback func() error
	switch strings.ToLower(ext) {
	case ".toml":
		primary, fallback = tryTOML, tryYAML
	default:
		primary, fallback = tryYAML, tryTOML
	}

	if err := primary(); err != nil {
		wf = Workflow{}
		if ferr := fallback(); ferr != nil {
			return nil, newErrf(KindParse, "", "", "could not parse workflow document as YAML or TOML: %v", err)
		}
	}
	for _, st := range wf.Steps {
		st.resolveKind()
	}
	return &wf, nil
}

// ValidateWorkflow performs the first validation pass described in §4.1:
// structural checks that must hold before any step can execute.
func ValidateWorkflow(wf *Workflow) error {
	if strings.TrimSpace(wf.Name) == "" {
		return newErrf(KindArgument, "", "name", "workflow name must not be empty")
	}
	if len(wf.Steps) == 0 {
		return newErrf(KindArgument, "", "steps", "workflow must declare at least one step")
	}
	if len(wf.Steps) > MaxSteps {
		return newErrf(KindArgument, "", "steps", "workflow declares %d steps, exceeding the cap of %d", len(wf.Steps), MaxSteps)
	}
	for _, st := range wf.Steps {
		if err := validateStep(st); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st *Step) error {
	if strings.TrimSpace(st.Name) == "" {
		return newErrf(KindArgument, st.Name, "name", "step name must not be empty")
	}
	if strings.TrimSpace(st.URL) == "" {
		return newErrf(KindArgument, st.Name, "url", "step url must not be empty")
	}
	method := st.Method
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		return newErrf(KindArgument, st.Name, "method", "invalid HTTP method %q", st.Method)
	}
	if st.Retries > MaxRetriesPerStep {
		return newErrf(KindArgument, st.Name, "retries", "retries %d exceeds the cap of %d", st.Retries, MaxRetriesPerStep)
	}
	for field, val := range map[string]string{"timeout": st.Timeout, "delay": st.Delay, "retry_delay": st.RetryDelay} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return newErrf(KindArgument, st.Name, field, "invalid duration %q: %v", val, err)
		}
	}
	if st.Assert != nil && st.Assert.Latency != "" {
		if _, err := parseLatencyBound(st.Assert.Latency); err != nil {
			return newErrf(KindArgument, st.Name, "assert.latency", "%v", err)
		}
	}
	if variants := st.bodyVariantsSet(); len(variants) > 1 {
		return newErrf(KindArgument, st.Name, "body", "mutually exclusive body fields set: %s", strings.Join(variants, ", "))
	}
	return nil
}

func validMethod(m string) bool {
	switch strings.ToUpper(m) {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "CONNECT", "TRACE":
		return true
	default:
		return false
	}
}

// ValidateWorkflowWarnings runs the second, warnings-only validation pass
// described in §4.1, used only by the `validate-workflow` operation: it
// walks each step's URL template and flags `{{name}}` references that are
// neither a workflow/environment variable nor produced by an earlier
// step's `extract` map. Unlike ValidateWorkflow, an unresolved reference
// here is a warning, not an error — the workflow may still be runnable if
// the missing name is supplied via --var or is a CLI/env override.
func ValidateWorkflowWarnings(wf *Workflow) []string {
	known := make(map[string]bool, len(wf.Variables))
	for k := range wf.Variables {
		known[k] = true
	}
	for _, overlay := range wf.Environments {
		for k := range overlay {
			known[k] = true
		}
	}

	var warnings []string
	for _, st := range wf.Steps {
		for _, name := range referencedVars(st.URL) {
			if known[name] || isReservedVarName(name) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("step %q: url references undefined variable %q", st.Name, name))
		}
		for extracted := range st.Extract {
			known[extracted] = true
		}
	}
	return warnings
}

// referencedVars returns the distinct {{name}} references in a template
// string, in first-seen order.
func referencedVars(template string) []string {
	matches := varRefPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// isReservedVarName reports whether name is always bound by the engine
// itself (control-flow injections or dotted/indexed access into one),
// so it is never flagged as undefined regardless of workflow content.
func isReservedVarName(name string) bool {
	root := name
	if idx := strings.IndexAny(name, ".["); idx >= 0 {
		root = name[:idx]
	}
	switch root {
	case "_iteration", "_index", "item", "_download_path", "_download_size":
		return true
	default:
		return strings.HasPrefix(root, "env_")
	}
}

// ApplyEnvironment overlays the named environment's variables onto the
// workflow's base variables (environment wins on key collision). Unknown
// environment names are a no-op, matching the original's behavior of
// treating environment selection as best-effort.
func ApplyEnvironment(wf *Workflow, env string) map[string]any {
	merged := make(map[string]any, len(wf.Variables))
	for k, v := range wf.Variables {
		merged[k] = v
	}
	if overlay, ok := wf.Environments[env]; ok {
		for k, v := range overlay {
			merged[k] = v
		}
	}
	return merged
}

// ApplyCLIVariables parses "KEY=VALUE" pairs from --var flags, attempting a
// JSON decode of VALUE first and falling back to a raw string.
func ApplyCLIVariables(vars map[string]any, pairs []string) error {
	for _, p := range pairs {
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			return newErrf(KindArgument, "", "var", "invalid --var %q: expected KEY=VALUE", p)
		}
		key, raw := p[:idx], p[idx+1:]
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			decoded = raw
		}
		vars[key] = decoded
	}
	return nil
}

// FilterSteps applies tag/include/exclude selection, mirroring
// should_run_step in the original runner.
func FilterSteps(steps []*Step, tags, include, exclude []string) []*Step {
	if len(tags) == 0 && len(include) == 0 && len(exclude) == 0 {
		return steps
	}
	var out []*Step
	for _, st := range steps {
		if len(include) > 0 && !containsString(include, st.Name) {
			continue
		}
		if len(exclude) > 0 && containsString(exclude, st.Name) {
			continue
		}
		if len(tags) > 0 && !anyTagMatches(tags, st.Tags) {
			continue
		}
		out = append(out, st)
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anyTagMatches(want, have []string) bool {
	for _, w := range want {
		if containsString(have, w) {
			return true
		}
	}
	return false
}
