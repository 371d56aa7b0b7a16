package workflow

import (
	"context"
	"encoding/json"
	"io"
	"os"
)

// harMaxFileSize caps the HAR document read into memory, per §4.4's HAR
// replay contract.
const harMaxFileSize = 64 << 20

type harDocument struct {
	Log struct {
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harEntry struct {
	Request struct {
		Method      string          `json:"method"`
		URL         string          `json:"url"`
		Headers     []harNameValue  `json:"headers"`
		QueryString []harNameValue  `json:"queryString"`
		PostData    *harPostData    `json:"postData"`
	} `json:"request"`
}

type harNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HarAdapter replays one recorded request from a HAR archive, grounded on
// the original's `load and replay recorded entries` behavior.
type HarAdapter struct {
	http *HTTPAdapter
}

func NewHarAdapter(http *HTTPAdapter) *HarAdapter {
	return &HarAdapter{http: http}
}

func (a *HarAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	cfg := req.Step.Har
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "har", "har step missing har config")
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, newErrf(KindIO, req.Step.Name, "har.path", "opening HAR file %q: %v", cfg.Path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, harMaxFileSize+1))
	if err != nil {
		return nil, newErrf(KindIO, req.Step.Name, "har.path", "reading HAR file %q: %v", cfg.Path, err)
	}
	if len(data) > harMaxFileSize {
		return nil, newErrf(KindSize, req.Step.Name, "har.path", "HAR file %q exceeds %d byte limit", cfg.Path, harMaxFileSize)
	}

	var doc harDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newErrf(KindParse, req.Step.Name, "har.path", "HAR file %q is not valid JSON: %v", cfg.Path, err)
	}
	if cfg.Entry < 0 || cfg.Entry >= len(doc.Log.Entries) {
		return nil, newErrf(KindArgument, req.Step.Name, "har.entry", "entry index %d out of range (%d entries)", cfg.Entry, len(doc.Log.Entries))
	}
	entry := doc.Log.Entries[cfg.Entry]

	headers := make(map[string]string, len(entry.Request.Headers))
	for _, h := range entry.Request.Headers {
		headers[h.Name] = h.Value
	}

	replay := &AdapterRequest{
		Step:            req.Step,
		Method:          entry.Request.Method,
		URL:             entry.Request.URL,
		Headers:         headers,
		Timeout:         req.Timeout,
		ClientOverrides: req.ClientOverrides,
	}
	if entry.Request.PostData != nil {
		replay.Body = []byte(entry.Request.PostData.Text)
		replay.ContentType = entry.Request.PostData.MimeType
	}

	return a.http.Do(ctx, replay, store)
}
