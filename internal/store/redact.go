// ABOUTME: Secret redaction and size capping applied to audit input before it is stored.
// ABOUTME: Values that look like credentials, or sit under credential-like keys, are replaced.

package store

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redacted replaces any value judged to be a secret.
const Redacted = "[REDACTED]"

// maxValueLen caps stored values; diffs and file contents are summarized.
const maxValueLen = 1024

var (
	secretValue = regexp.MustCompile(`(?i)^(sk-|token|secret|password|ghp_|xox[abp]-)`)
	secretKey   = regexp.MustCompile(`(?i)(token|secret|password|passcode|api[_-]?key)`)
	bearerValue = regexp.MustCompile(`(?i)bearer\s+\S+`)
)

// Redact returns a copy of input with secrets replaced and long values truncated.
func Redact(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		if secretKey.MatchString(k) {
			out[k] = Redacted
			continue
		}
		out[k] = RedactString(v)
	}
	return out
}

// RedactString redacts a single free-text value.
func RedactString(v string) string {
	if secretValue.MatchString(v) {
		return Redacted
	}
	v = bearerValue.ReplaceAllString(v, "Bearer "+Redacted)
	if len(v) > maxValueLen {
		cut := maxValueLen
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}
		v = strings.TrimSpace(v[:cut]) + fmt.Sprintf("… (%d bytes total)", len(v))
	}
	return v
}
