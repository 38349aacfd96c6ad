package logutil

import "strings"

const redacted = "[REDACTED]"

// IsSensitiveLogField returns true when a key or selector likely refers to
// credential material (a password input, a token field, and so on).
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	default:
		return false
	}
}

// RedactFillValue hides a fill payload when the target it is typed into
// looks sensitive. The target is a selector description like
// `placeholder "Password"` or `css #password`.
func RedactFillValue(target, value string) string {
	if IsSensitiveLogField(target) {
		return redacted
	}
	return value
}

// TruncateForLog returns a single-line truncated preview for unstructured values
// such as page HTML captured on failure.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	return normalized[:maxChars] + "... [truncated]"
}
