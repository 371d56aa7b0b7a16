package workflow

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSessionEmptyNameDisablesPersistence(t *testing.T) {
	s, err := LoadSession("", false)
	if err != nil || s != nil {
		t.Fatalf("expected nil session and no error, got %v %v", s, err)
	}
}

func TestLoadSessionMissingFileStartsEmpty(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("fresh", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil || s.doc.Hosts == nil {
		t.Fatal("expected an initialized, empty session")
	}
}

func TestSessionSaveAndReload(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("roundtrip", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, _ := url.Parse("https://api.example.com/login")
	resp := &http.Response{
		Request: &http.Request{URL: u},
		Header:  http.Header{"Set-Cookie": []string{"session=abc123; Path=/"}},
	}
	s.MergeSetCookie(resp)
	if err := s.Save(); err != nil {
		t.Fatalf("unexpected error saving session: %v", err)
	}

	reloaded, err := LoadSession("roundtrip", false)
	if err != nil {
		t.Fatalf("unexpected error reloading session: %v", err)
	}
	hs, ok := reloaded.doc.Hosts["api.example.com"]
	if !ok || len(hs.Cookies) != 1 || hs.Cookies[0].Value != "abc123" {
		t.Fatalf("expected the cookie to survive a save/reload round trip, got %+v", hs)
	}
}

func TestSessionReadOnlyDoesNotPersist(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("readonly", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sessionDir, "readonly.json")); !os.IsNotExist(err) {
		t.Fatal("expected no file to have been written by a read-only session")
	}
}

func TestApplyCookiesInjectsMatchingCookies(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("apply", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse("https://api.example.com/login")
	s.MergeSetCookie(&http.Response{
		Request: &http.Request{URL: u},
		Header:  http.Header{"Set-Cookie": []string{"token=xyz; Path=/"}},
	})

	req, _ := http.NewRequest("GET", "https://api.example.com/items", nil)
	s.ApplyCookies(req)
	if got := req.Header.Get("Cookie"); got != "token=xyz" {
		t.Fatalf("expected Cookie header to carry token=xyz, got %q", got)
	}
}

func TestApplyCookiesOverridesHeadersAlreadySetOnRequest(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("headers", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse("https://api.example.com/login")
	s.MergeSetCookie(&http.Response{
		Request: &http.Request{URL: u},
		Header:  http.Header{"Set-Cookie": []string{"token=xyz; Path=/"}},
	})
	s.doc.Hosts["api.example.com"].Headers = map[string]string{"X-Tenant": "from-session"}

	req, _ := http.NewRequest("GET", "https://api.example.com/items", nil)
	req.Header.Set("X-Tenant", "from-step")
	s.ApplyCookies(req)
	if got := req.Header.Get("X-Tenant"); got != "from-session" {
		t.Fatalf("expected a persisted session header to override a step/workflow header, got %q", got)
	}
}

func TestApplyCookiesSkipsSecureCookiesOverPlainHTTP(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("secure", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse("https://api.example.com/login")
	s.MergeSetCookie(&http.Response{
		Request: &http.Request{URL: u},
		Header:  http.Header{"Set-Cookie": []string{"token=xyz; Path=/; Secure"}},
	})

	req, _ := http.NewRequest("GET", "http://api.example.com/items", nil)
	s.ApplyCookies(req)
	if got := req.Header.Get("Cookie"); got != "" {
		t.Fatalf("expected no cookie header over plain HTTP, got %q", got)
	}
}

func TestApplyCookiesSkipsExpiredCookies(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("expired", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse("https://api.example.com/login")
	s.MergeSetCookie(&http.Response{
		Request: &http.Request{URL: u},
		Header:  http.Header{"Set-Cookie": []string{"token=xyz; Path=/; Expires=" + time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)}},
	})

	req, _ := http.NewRequest("GET", "https://api.example.com/items", nil)
	s.ApplyCookies(req)
	if got := req.Header.Get("Cookie"); got != "" {
		t.Fatalf("expected an expired cookie to be skipped, got %q", got)
	}
}

func TestMergeSetCookieReplacesExistingByName(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := LoadSession("replace", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse("https://api.example.com/login")
	s.MergeSetCookie(&http.Response{Request: &http.Request{URL: u}, Header: http.Header{"Set-Cookie": []string{"token=v1"}}})
	s.MergeSetCookie(&http.Response{Request: &http.Request{URL: u}, Header: http.Header{"Set-Cookie": []string{"token=v2"}}})

	hs := s.doc.Hosts["api.example.com"]
	if len(hs.Cookies) != 1 || hs.Cookies[0].Value != "v2" {
		t.Fatalf("expected the second Set-Cookie to replace the first, got %+v", hs.Cookies)
	}
}

func TestSanitizeFilenameReplacesUnsafeCharacters(t *testing.T) {
	got := sanitizeFilename("my session/name!.json")
	want := "my_session_name__json"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
