package logging

import (
	"net/http"
	"net/url"
	"strings"
)

// RedactToken keeps a short prefix/suffix of a secret so two values can be
// told apart in logs without revealing either.
func RedactToken(token string) string {
	switch n := len(token); {
	case n == 0:
		return ""
	case n > 16:
		return token[:4] + "..." + token[n-4:]
	case n > 8:
		return token[:2] + "..." + token[n-2:]
	default:
		return "***"
	}
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.TrimSuffix(k, "[]")
	if k == "key" {
		return true
	}
	for _, marker := range []string{"authorization", "token", "secret", "api-key", "apikey", "api_key", "password", "cookie"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// MaskHeader redacts the value of credential-bearing headers and attributes.
// "Bearer abc..." keeps the scheme.
func MaskHeader(key, value string) string {
	if !isSensitiveKey(key) {
		return value
	}
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) == 2 && strings.Contains(strings.ToLower(key), "authorization") {
		return parts[0] + " " + RedactToken(parts[1])
	}
	return RedactToken(value)
}

// MaskHeaders returns a flattened, redacted copy suitable for a log field.
func MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[k] = MaskHeader(k, strings.Join(values, ","))
	}
	return out
}

// MaskQuery redacts sensitive parameters in a raw query string while keeping
// parameter order intact.
func MaskQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart, valuePart, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !isSensitiveKey(decodedKey) {
			continue
		}
		decodedValue, err := url.QueryUnescape(valuePart)
		if err != nil {
			decodedValue = valuePart
		}
		parts[i] = keyPart + "=" + url.QueryEscape(RedactToken(decodedValue))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}
