package json

import (
	"strings"
	"unicode"
)

// MarshalSnake encodes v and rewrites every object key to snake_case, so
// untagged struct fields and camelCase map keys go out as the server expects.
// Keys that are already snake_case pass through unchanged.
func MarshalSnake(v any) ([]byte, error) {
	switch raw := v.(type) {
	case RawMessage:
		return raw, nil
	case []byte:
		return raw, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return Marshal(snakeKeys(generic))
}

func snakeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[SnakeCase(k)] = snakeKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = snakeKeys(t[i])
		}
		return t
	default:
		return v
	}
}

// SnakeCase converts camelCase / PascalCase identifiers to snake_case.
// Acronym runs stay together: "userID" -> "user_id", "HTTPStatus" -> "http_status".
func SnakeCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
