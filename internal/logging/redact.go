// Package logging provides logging utilities including sensitive data redaction.
// Worker stderr and health command output routinely end up in trajectory steps
// and log files; the helpers here keep credentials out of both.
package logging

import (
	"regexp"

	"github.com/rs/zerolog"
)

// RedactedValue is the replacement string for sensitive data.
const RedactedValue = "[REDACTED]"

// secretPatterns contains compiled regular expressions for detecting
// credential-shaped values in captured output.
var secretPatterns = []*regexp.Regexp{ //nolint:gochecknoglobals // Package-level patterns for reuse
	// Anthropic API keys (sk-ant-api...)
	regexp.MustCompile(`sk-ant-api[a-zA-Z0-9_-]+`),

	// OpenAI-style keys (sk-...)
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),

	// GitHub tokens (ghp_, gho_, ghu_, ghs_, ghr_)
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{20,}`),

	// key=value style assignments for api keys, tokens, secrets, passwords
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|credential)\s*[:=]\s*["']?[^\s"']{8,}["']?`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_.-]{20,}`),

	// SSH private key headers
	regexp.MustCompile(`-----BEGIN[A-Z ]+PRIVATE KEY-----`),
}

// Redact replaces any credential-shaped substrings with RedactedValue.
// Use it on worker output before it is persisted to a trajectory or memo.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// ContainsSecret reports whether the string matches any secret pattern.
func ContainsSecret(s string) bool {
	for _, pattern := range secretPatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// RedactHook is a zerolog hook that flags events whose message still
// contains credential-shaped data. Zerolog does not allow rewriting the
// message inside a hook, so call sites redact with Redact(); the hook is a
// fallback marker for anything that slipped through.
type RedactHook struct{}

// NewRedactHook creates a RedactHook.
func NewRedactHook() *RedactHook {
	return &RedactHook{}
}

// Run implements the zerolog.Hook interface.
func (h *RedactHook) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if ContainsSecret(msg) {
		e.Bool("contains_secret", true)
	}
}
