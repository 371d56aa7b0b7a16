package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dumpDocument is the on-disk shape of a response dump, mirroring the
// original's save_response_data response_data object.
type dumpDocument struct {
	Timestamp  string            `json:"timestamp"`
	StepName   string            `json:"step_name"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	StatusCode *int              `json:"status_code,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Passed     bool              `json:"passed"`
	Skipped    bool              `json:"skipped"`
	Error      string            `json:"error,omitempty"`
	Assertions []AssertionResult `json:"assertions"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// SaveResponseDump writes result, plus the response headers (narrowed to
// include_headers when that list is set, with credential-like values
// masked) and the raw body whenever an outcome is given, to
// dir/<sanitized-name>_<status>_<ts>.json,
// grounded on original_source/src/pipeline/runner.rs's save_response_data.
// The timestamp is caller-supplied so every dump in a run shares one clock
// read instead of drifting across steps.
func SaveResponseDump(dir string, result *StepResult, cfg *SaveConfig, outcome *AdapterOutcome, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newErr(KindIO, result.Name, "save.dir", err)
	}

	status := "error"
	if result.StatusCode != nil {
		status = fmt.Sprintf("%d", *result.StatusCode)
	}
	timestamp := now.UTC().Format("20060102_150405.000")
	filename := fmt.Sprintf("%s_%s_%sZ.json", sanitizeFilename(result.Name), status, timestamp)
	path := filepath.Join(dir, filename)

	doc := dumpDocument{
		Timestamp:  now.UTC().Format(time.RFC3339),
		StepName:   result.Name,
		Method:     result.Method,
		URL:        result.URL,
		StatusCode: result.StatusCode,
		DurationMS: result.ElapsedMs,
		Passed:     result.Passed(),
		Skipped:    result.Skipped,
		Error:      result.Error,
		Assertions: result.Assertions,
	}
	if outcome != nil {
		doc.Headers = maskSecretHeaders(filterHeaders(outcome.Headers, cfg.IncludeHeaders))
		doc.Body = string(outcome.Body)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", newErr(KindIO, result.Name, "save", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", newErr(KindIO, result.Name, "save", err)
	}
	return path, nil
}

// maskSecretHeaders redacts header values that look like they carry a
// credential, so a response dump written to disk doesn't leak an
// Authorization bearer token or API key in plain text.
func maskSecretHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSecretName(k) || IsSecretName(v) {
			out[k] = MaskSecret(v)
			continue
		}
		out[k] = v
	}
	return out
}

func filterHeaders(headers map[string]string, include []string) map[string]string {
	if len(include) == 0 {
		return headers
	}
	out := make(map[string]string, len(include))
	for _, name := range include {
		if v, ok := lookupHeaderCI(headers, name); ok {
			out[name] = v
		}
	}
	return out
}
