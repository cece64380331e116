package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

// Transcripts of a child reading aloud routinely pick up contact
// details from the page or the room. These patterns cover what leaks
// into logs and summary cards in practice: emails, mainland mobile
// numbers, and generic international numbers.
var (
	emailRe  = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	mobileRe = regexp.MustCompile(`\b1[3-9]\d{9}\b`)
	phoneRe  = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// SetEnabled toggles PII redaction for logged transcripts and pushed
// summaries.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = mobileRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
