package workflow

import "regexp"

// secretKeyPatterns flags names (and values) that conventionally carry
// secrets, so a response dump can mask such header values before they are
// written to disk. Adapted from the teacher's secret
// detector: narrowed to name-based heuristics since the workflow store
// holds arbitrary JSON values, not just strings.
var secretKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)`),
	regexp.MustCompile(`(?i)(secret[_-]?key|secretkey|secret)`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)`),
	regexp.MustCompile(`(?i)(access[_-]?token|refresh[_-]?token|auth[_-]?token)`),
	regexp.MustCompile(`(?i)(bearer|jwt)`),
	regexp.MustCompile(`(?i)(private[_-]?key)`),
}

// IsSecretName reports whether a name (or value) looks like it carries a
// credential. The response dump uses it to pick header values to mask; it
// never blocks storage.
func IsSecretName(name string) bool {
	for _, p := range secretKeyPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// MaskSecret redacts all but a short prefix/suffix of a string value for
// display in logs and dumps.
func MaskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
