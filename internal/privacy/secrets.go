// Package privacy scrubs secrets and PII from struggle-context inputs
// before they reach an LLM prompt, and flags already-redacted prompts so
// the LLM cache never stores them.
package privacy

import (
	"regexp"
	"strings"
)

// RedactionMarker is inserted in place of a detected secret. Its presence in
// a prompt means the prompt was scrubbed, and such prompts are never cached
// (the redaction itself must not become a stable cache key for content that
// may differ run to run).
const RedactionMarker = "[REDACTED]"

// secretPatterns contains compiled regular expressions for detecting secrets.
// These patterns are designed to catch common secret formats with minimal false positives.
var secretPatterns = []*regexp.Regexp{
	// API keys with common prefixes
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),

	// Passwords in configuration
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"][^'"]{8,}['"]`),

	// Secret tokens
	regexp.MustCompile(`(?i)(secret[_-]?key|secret[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),

	// OpenAI API keys
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),

	// Anthropic API keys
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),

	// GitHub tokens
	regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),

	// AWS keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*['"]?[a-zA-Z0-9/+=]{40}['"]?`),

	// Private keys (PEM format indicators)
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),

	// JWT tokens (base64.base64.base64 format)
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),

	// Generic secret assignment patterns
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
}

// ContainsSecrets checks if the given text contains any patterns that look like secrets.
// Returns true if potential secrets are detected.
func ContainsSecrets(text string) bool {
	if text == "" {
		return false
	}

	for _, pattern := range secretPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// RedactSecrets replaces detected secrets with a redaction marker.
// This allows the text to be stored while protecting sensitive data.
func RedactSecrets(text string) string {
	if text == "" {
		return text
	}

	result := text
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Preserve the key name, redact only the value
			if idx := strings.Index(match, "="); idx != -1 {
				return match[:idx+1] + "[REDACTED]"
			}
			if idx := strings.Index(match, ":"); idx != -1 {
				return match[:idx+1] + "[REDACTED]"
			}
			// For standalone secrets, show just the prefix
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}

// ScrubStruggleContext redacts secrets from the free-text fields of a
// struggle/audit graph input before it is handed to generate or
// classify_violations.
func ScrubStruggleContext(snippet string, diagnostics []string) (scrubbedSnippet string, scrubbedDiagnostics []string, wasRedacted bool) {
	scrubbedSnippet = RedactSecrets(snippet)
	scrubbedDiagnostics = make([]string, len(diagnostics))
	for i, d := range diagnostics {
		scrubbedDiagnostics[i] = RedactSecrets(d)
	}
	wasRedacted = strings.Contains(scrubbedSnippet, RedactionMarker)
	if !wasRedacted {
		for _, d := range scrubbedDiagnostics {
			if strings.Contains(d, RedactionMarker) {
				wasRedacted = true
				break
			}
		}
	}
	return scrubbedSnippet, scrubbedDiagnostics, wasRedacted
}

// WasRedacted reports whether text carries the redaction marker, meaning it
// must not be used as (or stored under) an LLM cache key.
func WasRedacted(text string) bool {
	return strings.Contains(text, RedactionMarker)
}
