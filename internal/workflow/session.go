package workflow

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SessionCookie is one persisted cookie, keyed by host within a Session.
type SessionCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
}

// sessionDocument is the on-disk JSON shape: cookies and persistent headers
// keyed by host, per spec.md §6 "Persisted state."
type sessionDocument struct {
	Hosts map[string]*hostSession `json:"hosts"`
}

type hostSession struct {
	Cookies []SessionCookie   `json:"cookies,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SessionStore is the engine-owned, run-scoped cookie-and-header store. It
// is loaded from disk before the first step and persisted after the last,
// unless the workflow declares session_read_only.
type SessionStore struct {
	mu       sync.Mutex
	path     string
	readOnly bool
	doc      sessionDocument
}

// sessionDir is the directory under which named session files live,
// mirroring the teacher's `.falcon/sessions/` layout but with one file per
// session name rather than per invocation timestamp.
const sessionDir = ".quicpulse/sessions"

// LoadSession loads (or initializes) the named session file. name == ""
// disables session persistence entirely (nil, nil is returned).
func LoadSession(name string, readOnly bool) (*SessionStore, error) {
	if name == "" {
		return nil, nil
	}
	path := filepath.Join(sessionDir, sanitizeFilename(name)+".json")
	s := &SessionStore{path: path, readOnly: readOnly, doc: sessionDocument{Hosts: map[string]*hostSession{}}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, newErr(KindIO, "", "session", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, newErrf(KindIO, "", "session", "session file %q is corrupt: %v", path, err)
	}
	if s.doc.Hosts == nil {
		s.doc.Hosts = map[string]*hostSession{}
	}
	return s, nil
}

// Save persists the session to disk unless it was loaded read-only.
func (s *SessionStore) Save() error {
	if s == nil || s.readOnly {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return newErr(KindIO, "", "session", err)
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return newErr(KindIO, "", "session", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return newErr(KindIO, "", "session", err)
	}
	return nil
}

// ApplyCookies composes a Cookie header for req from cookies matching its
// host, path, and scheme, per §4.4's session cookie injection contract. It
// must run after workflow/step headers are set on req but before auth is
// injected: persisted session headers override both, the way the original
// runner's apply_session_to_request overlay does, but auth is applied last
// by the caller so it always wins.
func (s *SessionStore) ApplyCookies(req *http.Request) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	host := req.URL.Hostname()
	hs, ok := s.doc.Hosts[host]
	if !ok {
		return
	}
	for k, v := range hs.Headers {
		req.Header.Set(k, v)
	}

	var parts []string
	secure := req.URL.Scheme == "https"
	for _, c := range hs.Cookies {
		if c.Secure && !secure {
			continue
		}
		if c.Path != "" && !strings.HasPrefix(req.URL.Path, c.Path) {
			continue
		}
		if !c.Expires.IsZero() && time.Now().After(c.Expires) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) > 0 {
		existing := req.Header.Get("Cookie")
		if existing != "" {
			existing += "; "
		}
		req.Header.Set("Cookie", existing+strings.Join(parts, "; "))
	}
}

// MergeSetCookie parses Set-Cookie headers from a response and merges them
// back into the host's cookie jar.
func (s *SessionStore) MergeSetCookie(resp *http.Response) {
	if s == nil {
		return
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}
	host := resp.Request.URL.Hostname()

	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.doc.Hosts[host]
	if !ok {
		hs = &hostSession{}
		s.doc.Hosts[host] = hs
	}
	for _, c := range cookies {
		sc := SessionCookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Secure: c.Secure}
		if !c.Expires.IsZero() {
			sc.Expires = c.Expires
		}
		replaced := false
		for i, existing := range hs.Cookies {
			if existing.Name == sc.Name {
				hs.Cookies[i] = sc
				replaced = true
				break
			}
		}
		if !replaced {
			hs.Cookies = append(hs.Cookies, sc)
		}
	}
	sort.Slice(hs.Cookies, func(i, j int) bool { return hs.Cookies[i].Name < hs.Cookies[j].Name })
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
