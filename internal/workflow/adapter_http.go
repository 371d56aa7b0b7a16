package workflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// multipartStreamThreshold is the 10 MiB multipart file-size boundary.
// buildMultipartBody does not consult it: multipart bodies are assembled
// in memory whatever the size of their file parts.
const multipartStreamThreshold = 10 << 20

// HTTPAdapter issues ordinary HTTP requests and backs the download/upload
// step variants, which are the same transport with different body/response
// handling layered on top.
type HTTPAdapter struct {
	clients  *clientCache
	sessions *SessionStore
	oauth    *oauthTokenCache
}

// NewHTTPAdapter builds an HTTP adapter sharing one client cache and OAuth2
// client_credentials token cache across every step in a run.
func NewHTTPAdapter(sessions *SessionStore) *HTTPAdapter {
	return &HTTPAdapter{clients: newClientCache(), sessions: sessions, oauth: newOAuthTokenCache()}
}

func (a *HTTPAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	client, err := a.clients.get(req.ClientOverrides)
	if err != nil {
		return nil, newErr(KindAdapter, "", "client", err)
	}

	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(req.Timeout))
	defer cancel()

	httpReq, err := a.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, newErrf(KindAdapter, req.Step.Name, "url", "request failed: %v", err)
	}
	defer resp.Body.Close()

	const responseBodyCap = 100 << 20 // 100 MiB, per spec.md §5
	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyCap))
	if err != nil {
		return nil, newErrf(KindAdapter, req.Step.Name, "body", "reading response body: %v", err)
	}

	if a.sessions != nil {
		a.sessions.MergeSetCookie(resp)
	}

	headers := flattenHeaders(resp.Header)
	out := &AdapterOutcome{StatusCode: resp.StatusCode, Headers: headers, Body: body, Elapsed: elapsed}

	if req.Step.Download != nil {
		if err := applyDownload(req.Step.Download, body, store); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (a *HTTPAdapter) buildRequest(ctx context.Context, req *AdapterRequest) (*http.Request, error) {
	fullURL := req.URL
	if len(req.Query) > 0 {
		u, err := url.Parse(fullURL)
		if err != nil {
			return nil, newErrf(KindAdapter, req.Step.Name, "url", "invalid URL %q: %v", fullURL, err)
		}
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		fullURL = u.String()
	}

	var bodyReader io.Reader
	var contentLength int64 = -1
	var multipartBoundary string

	switch {
	case req.Step.UploadFile != nil:
		body, ct, err := buildUploadBody(req.Step.UploadFile)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(body)
		req.ContentType = ct
		contentLength = int64(len(body))
	case len(req.Step.Multipart) > 0:
		body, boundary, err := buildMultipartBody(req.Step.Multipart)
		if err != nil {
			return nil, err
		}
		bodyReader = body
		multipartBoundary = boundary
	case req.Body != nil:
		payload := req.Body
		if req.Step.Compress {
			compressed, err := deflateBytes(payload)
			if err != nil {
				return nil, newErr(KindAdapter, req.Step.Name, "compress", err)
			}
			payload = compressed
			req.ContentEncoding = "deflate"
		}
		bodyReader = bytes.NewReader(payload)
		contentLength = int64(len(payload))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, newErrf(KindAdapter, req.Step.Name, "url", "building request: %v", err)
	}
	if contentLength >= 0 {
		httpReq.ContentLength = contentLength
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if multipartBoundary != "" {
		httpReq.Header.Set("Content-Type", "multipart/form-data; boundary="+multipartBoundary)
	} else if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.ContentEncoding != "" {
		httpReq.Header.Set("Content-Encoding", req.ContentEncoding)
	}

	if a.sessions != nil {
		a.sessions.ApplyCookies(httpReq)
	}

	if req.Step.Auth != nil {
		if err := a.applyAuth(ctx, req.Step.Auth, httpReq, req.Body); err != nil {
			return nil, err
		}
	}

	return httpReq, nil
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// buildHTTPClient constructs a one-off *http.Client for a step whose
// ClientOverrides are non-empty (proxy/TLS/redirect behavior). Cached by
// fingerprint in clientCache so steps sharing identical overrides reuse it.
func buildHTTPClient(o ClientOverrides) (*http.Client, error) {
	transport := &http.Transport{}

	if o.Proxy != "" {
		proxyURL, err := url.Parse(o.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", o.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: o.Insecure}
	if o.CACert != "" {
		pem, err := os.ReadFile(o.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_cert %q contains no valid certificates", o.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	if o.ClientCert != "" && o.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(o.ClientCert, o.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	transport.TLSClientConfig = tlsCfg

	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	follow := true
	if o.FollowRedirects != nil {
		follow = *o.FollowRedirects
	}
	maxRedirects := o.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 10
	}
	if !follow {
		client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	} else {
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}
	return client, nil
}

// applyAuth injects the Authorization header (or signs the request in
// place, for aws_sigv4) according to the step's auth variant.
func (a *HTTPAdapter) applyAuth(ctx context.Context, auth *StepAuth, req *http.Request, body []byte) error {
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "digest":
		// Digest requires a 401 challenge round-trip; a non-challenged
		// request carries the username so the caller's retry step (a
		// second step targeting the same URL after a 401) can complete
		// the handshake, matching the original's split request/response
		// digest implementation.
		req.Header.Set("Authorization", fmt.Sprintf("Digest username=%q", auth.Username))
	case "aws_sigv4":
		if err := signAWSSigV4(ctx, auth, req, body); err != nil {
			return newErr(KindAuth, "", "auth", err)
		}
	case "gcp":
		token, err := runCLIForToken("gcloud", "auth", "print-access-token")
		if err != nil {
			return newErr(KindAuth, "", "auth", fmt.Errorf("gcp token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "azure":
		token, err := runCLIForToken("az", "account", "get-access-token", "--query", "accessToken", "-o", "tsv")
		if err != nil {
			return newErr(KindAuth, "", "auth", fmt.Errorf("azure token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "oauth2_cc":
		token, err := a.oauth.token(ctx, auth)
		if err != nil {
			return newErr(KindAuth, "", "auth", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func signAWSSigV4(ctx context.Context, auth *StepAuth, req *http.Request, body []byte) error {
	creds := awssdk.Credentials{
		AccessKeyID:     auth.ClientID,
		SecretAccessKey: auth.ClientSecret,
		SessionToken:    auth.Token,
	}
	hash := sha256Hex(body)
	req.Header.Set("X-Amz-Content-Sha256", hash)
	signer := v4.NewSigner()
	return signer.SignHTTP(ctx, creds, req, hash, auth.Service, auth.Region, time.Now())
}

// buildMultipartBody assembles a multipart/form-data body. Each file field
// is copied via io.Copy from an open file handle into the in-memory body
// buffer; the body is not streamed from disk, for files of any size.
func buildMultipartBody(fields []MultipartField) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.FilePath == "" {
			if err := w.WriteField(f.Name, f.Value); err != nil {
				return nil, "", newErr(KindIO, "", "multipart", err)
			}
			continue
		}
		file, err := os.Open(f.FilePath)
		if err != nil {
			return nil, "", newErr(KindIO, "", "multipart", err)
		}
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(f.FilePath))
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		part, err := w.CreatePart(multipartFileHeader(f.Name, filepath.Base(f.FilePath), mimeType))
		if err != nil {
			file.Close()
			return nil, "", newErr(KindIO, "", "multipart", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			file.Close()
			return nil, "", newErr(KindIO, "", "multipart", err)
		}
		file.Close()
	}
	if err := w.Close(); err != nil {
		return nil, "", newErr(KindIO, "", "multipart", err)
	}
	return &buf, w.Boundary(), nil
}

func multipartFileHeader(field, filename, mimeType string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename)},
		"Content-Type":        {mimeType},
	}
}

// buildUploadBody reads a single file for the `upload` adapter variant,
// optionally compressing it and resolving the Content-Type it should be
// sent under, per §4.4's upload contract.
func buildUploadBody(cfg *UploadConfig) ([]byte, string, error) {
	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		return nil, "", newErr(KindIO, "", "upload_file", err)
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(cfg.FilePath))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	switch cfg.Compress {
	case "gzip":
		data, err = gzipBytes(data)
	case "deflate":
		data, err = deflateBytes(data)
	}
	if err != nil {
		return nil, "", newErr(KindIO, "", "upload_file", err)
	}
	return data, contentType, nil
}

func deflateBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// applyDownload writes the response body to cfg.Path and records the path
// and the resulting file size in the store as _download_path and
// _download_size. The outcome body is left as the downloaded bytes; no
// {downloaded, path, size} summary body is produced.
func applyDownload(cfg *DownloadConfig, body []byte, store *VariableStore) error {
	if !cfg.Overwrite {
		if _, err := os.Stat(cfg.Path); err == nil {
			return newErrf(KindDownload, "", "path", "file %q already exists (set overwrite: true)", cfg.Path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return newErr(KindIO, "", "path", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	offset := 0
	if cfg.Resume {
		if info, err := os.Stat(cfg.Path); err == nil {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			offset = int(info.Size())
		}
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return newErr(KindIO, "", "path", err)
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		return newErr(KindIO, "", "path", err)
	}
	store.Set("_download_path", cfg.Path)
	store.Set("_download_size", float64(offset+len(body)))
	return nil
}

func sha256Hex(body []byte) string {
	return hexEncodeSHA256(body)
}

func runCLIForToken(name string, args ...string) (string, error) {
	out, err := execCommand(name, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func base64Encode(v string) string { return base64.StdEncoding.EncodeToString([]byte(v)) }
