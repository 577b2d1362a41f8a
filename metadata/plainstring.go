package metadata

import "strings"

const (
	plainStringMaxLen    = 2000
	plainStringMaxCommas = 100
)

// IsPlainPromptString reports whether value is usable as raw prompt
// text. It rejects non-strings, anything that looks like a serialized
// JSON object or array, and oversized comma-dense blobs that are
// almost certainly an embedded list rather than prose. Every candidate
// passes through this gate before it is treated as a prompt.
func IsPlainPromptString(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return false
	}
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		return false
	}
	if len(s) > plainStringMaxLen && strings.Count(s, ",") > plainStringMaxCommas {
		return false
	}
	return true
}
