package redact

import (
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// secretParams are query parameters whose values never reach a log line.
var secretParams = []string{"client_secret", "api_key", "token"}

// SetEnabled toggles PII redaction of transcripts.
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
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret masks a credential, keeping a short prefix for correlation.
// Applied regardless of SetEnabled.
func Secret(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	if len(in) <= 8 {
		return "[REDACTED]"
	}
	return in[:4] + "...[REDACTED]"
}

// URL masks credential-bearing query parameters of a URL string.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED_URL]"
	}
	q := u.Query()
	changed := false
	for _, key := range secretParams {
		if v := q.Get(key); v != "" {
			q.Set(key, Secret(v))
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
