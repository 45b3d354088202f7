package json

import (
	"strings"
	"testing"
)

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"refreshToken": "refresh_token",
		"AccessToken":  "access_token",
		"userID":       "user_id",
		"HTTPStatus":   "http_status",
		"expires_in":   "expires_in",
		"home2Away":    "home2_away",
		"x":            "x",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarshalSnakeNested(t *testing.T) {
	type inner struct {
		PointValue int
	}
	payload := struct {
		EventID string
		Items   []inner
		Meta    map[string]any
	}{
		EventID: "e1",
		Items:   []inner{{PointValue: 5}},
		Meta:    map[string]any{"checkInAt": "now"},
	}
	data, err := MarshalSnake(payload)
	if err != nil {
		t.Fatalf("MarshalSnake failed: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"event_id":"e1"`, `"point_value":5`, `"check_in_at":"now"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestMarshalSnakeRawPassThrough(t *testing.T) {
	raw := RawMessage(`{"keepCase":true}`)
	data, err := MarshalSnake(raw)
	if err != nil {
		t.Fatalf("MarshalSnake failed: %v", err)
	}
	if string(data) != `{"keepCase":true}` {
		t.Errorf("raw message rewritten: %s", data)
	}
}

func TestMarshalSnakeKeepsLargeNumbers(t *testing.T) {
	data, err := MarshalSnake(map[string]any{"bigValue": int64(9007199254740993)})
	if err != nil {
		t.Fatalf("MarshalSnake failed: %v", err)
	}
	if string(data) != `{"big_value":9007199254740993}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
