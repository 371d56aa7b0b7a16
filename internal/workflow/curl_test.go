package workflow

import "testing"

func TestBuildCurlCommandBasic(t *testing.T) {
	req := &AdapterRequest{Method: "GET", URL: "https://api.example.com/users"}
	got := BuildCurlCommand(req)
	want := "curl -X GET 'https://api.example.com/users'"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildCurlCommandHeadersSortedAndBody(t *testing.T) {
	req := &AdapterRequest{
		Method:  "POST",
		URL:     "https://api.example.com/users",
		Headers: map[string]string{"Content-Type": "application/json", "Authorization": "Bearer x"},
		Body:    []byte(`{"name":"it's a test"}`),
	}
	got := BuildCurlCommand(req)
	want := "curl -X POST 'https://api.example.com/users' \\\n" +
		"  -H 'Authorization: Bearer x' \\\n" +
		"  -H 'Content-Type: application/json' \\\n" +
		`  -d '{"name":"it'\''s a test"}'`
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}
