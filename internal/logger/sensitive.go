package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveDataPatterns match credentials embedded in strings. The first
// group is kept, the rest is replaced.
var sensitiveDataPatterns = []*regexp.Regexp{
	// user info in URLs, such as the public key of a Sentry DSN
	regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^@/\s]+@`),
	// bearer tokens
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`),
	// key=value and key: value secrets
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)\s*[:=]\s*)[^;,\s]+`),
}

// sensitiveKeys are field keys whose string values are redacted when logged.
var sensitiveKeys = []string{"dsn", "password", "secret", "token", "api_key", "authorization"}

// RedactSensitiveData replaces credentials in input with [REDACTED].
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for i, pattern := range sensitiveDataPatterns {
		if i == 0 {
			input = pattern.ReplaceAllString(input, "${1}"+redacted+"@")
			continue
		}
		input = pattern.ReplaceAllString(input, "${1}"+redacted)
	}
	return input
}

// isSensitiveKey reports whether a field key names a credential.
func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if key == s || strings.HasSuffix(key, "_"+s) {
			return true
		}
	}
	return false
}
