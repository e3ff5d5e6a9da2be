package logging

import (
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
)

// RedactedValue replaces masked values in log output.
const RedactedValue = "[REDACTED]"

// Keys always emitted verbatim by MaskField.
var defaultAllowKeys = []string{
	"campaignid", "component", "env", "error", "message", "method", "operation",
	"path", "receipt", "requestid", "sequence", "service", "severity", "status", "timestamp",
}

// Keys masked by the handler wherever they appear, even without MaskField.
var defaultSecretKeys = []string{
	"authorization", "idempotency-key", "passphrase", "secret", "token",
}

// Redactor decides which log attributes are masked. MaskField consults the
// allowlist; the handler masks secret keys unconditionally.
type Redactor struct {
	allow   map[string]struct{}
	secrets map[string]struct{}
}

func keySet(defaults, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(defaults)+len(extra))
	for _, key := range append(append([]string{}, defaults...), extra...) {
		if normalized := normalizeKey(key); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// NewRedactor extends the built-in key lists with allow and secrets. A key in
// both lists is treated as secret.
func NewRedactor(allow, secrets []string) *Redactor {
	r := &Redactor{
		allow:   keySet(defaultAllowKeys, allow),
		secrets: keySet(defaultSecretKeys, secrets),
	}
	for key := range r.secrets {
		delete(r.allow, key)
	}
	return r
}

// Allowed reports whether key may be logged verbatim.
func (r *Redactor) Allowed(key string) bool {
	_, ok := r.allow[normalizeKey(key)]
	return ok
}

// Secret reports whether key is always masked.
func (r *Redactor) Secret(key string) bool {
	_, ok := r.secrets[normalizeKey(key)]
	return ok
}

// Field masks value unless key is allowlisted. Blank values pass through.
func (r *Redactor) Field(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || r.Allowed(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// ReplaceAttr masks secret keys at any group depth.
func (r *Redactor) ReplaceAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !r.Secret(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}

// AllowedKeys returns the sorted allowlist.
func (r *Redactor) AllowedKeys() []string {
	keys := make([]string, 0, len(r.allow))
	for key := range r.allow {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var active atomic.Pointer[Redactor]

func init() {
	active.Store(NewRedactor(nil, nil))
}

// MaskField masks value with the redactor installed by Setup.
func MaskField(key, value string) slog.Attr {
	return active.Load().Field(key, value)
}
