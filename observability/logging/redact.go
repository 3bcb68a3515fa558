package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{"authorization", "token", "secret", "password", "api-key", "apikey"}

// IsSensitive reports whether key names a credential.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveKeys {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskHeaders returns a copy of headers with credential values replaced,
// ready to be logged.
func MaskHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		if IsSensitive(key) && strings.TrimSpace(value) != "" {
			value = RedactedValue
		}
		out[key] = value
	}
	return out
}

// MaskDSN strips the password and sensitive query parameters from a data
// source name. Plain file paths are returned as they are.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), RedactedValue)
		}
	}
	q := u.Query()
	for key := range q {
		if IsSensitive(key) {
			q.Set(key, RedactedValue)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Headers is a slog attribute carrying masked headers.
func Headers(key string, headers map[string]string) slog.Attr {
	masked := MaskHeaders(headers)
	args := make([]any, 0, len(masked))
	for k, v := range masked {
		args = append(args, slog.String(k, v))
	}
	return slog.Group(key, args...)
}
