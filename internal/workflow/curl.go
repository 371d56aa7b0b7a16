package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// BuildCurlCommand renders req as an equivalent curl invocation for
// debugging, grounded on original_source/src/pipeline/runner.rs's
// generate_curl.
func BuildCurlCommand(req *AdapterRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "curl -X %s '%s'", req.Method, req.URL)

	names := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, " \\\n  -H '%s: %s'", k, req.Headers[k])
	}

	if len(req.Body) > 0 {
		escaped := strings.ReplaceAll(string(req.Body), "'", `'\''`)
		fmt.Fprintf(&b, " \\\n  -d '%s'", escaped)
	}
	return b.String()
}
