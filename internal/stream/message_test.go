package stream

import (
	"bytes"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Message
	}{
		{"score", `{"type":"score_update","payload":{"home":3,"away":1}}`, ScoreUpdate{Home: 3, Away: 1}},
		{"score camel type", `{"type":"scoreUpdate","payload":{"home":0,"away":7}}`, ScoreUpdate{Home: 0, Away: 7}},
		{"level", `{"type":"level_update","payload":{"value":4}}`, LevelUpdate{Value: 4}},
		{"announcement", `{"type":"announcement","payload":{"text":"Halftime show"}}`, Announcement{Text: "Halftime show"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode([]byte(tt.frame)); got != tt.want {
				t.Errorf("Decode = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeCarriesPayload(t *testing.T) {
	got, ok := Decode([]byte(`{"type":"activation_update","payload":{"id":"a1"}}`)).(ActivationUpdate)
	if !ok || string(got.Payload) != `{"id":"a1"}` {
		t.Fatalf("activation update = %#v", got)
	}
	sc, ok := Decode([]byte(`{"type":"status_change","payload":{"status":"live"}}`)).(StatusChange)
	if !ok || sc.Status != "live" {
		t.Fatalf("status change = %#v", sc)
	}
	if sc, ok := Decode([]byte(`{"type":"status_change"}`)).(StatusChange); !ok || sc.Payload != nil {
		t.Fatalf("status change without payload = %#v", sc)
	}
}

func TestDecodeFallsBackToRaw(t *testing.T) {
	frames := []string{
		`not json at all`,
		`{"payload":{}}`,
		`{"type":42}`,
		`{"type":"confetti","payload":{}}`,
		`{"type":"score_update","payload":{"home":"three"}}`,
		`{"type":"level_update"}`,
		`[1,2,3]`,
	}
	for _, frame := range frames {
		got, ok := Decode([]byte(frame)).(Raw)
		if !ok {
			t.Errorf("Decode(%s) = %#v, want Raw", frame, got)
			continue
		}
		if !bytes.Equal(got.Data, []byte(frame)) {
			t.Errorf("raw bytes = %q, want %q", got.Data, frame)
		}
	}
}

func TestRawOwnsItsBytes(t *testing.T) {
	buf := []byte(`garbage`)
	raw := Decode(buf).(Raw)
	buf[0] = 'X'
	if string(raw.Data) != "garbage" {
		t.Fatalf("Raw aliases the read buffer: %q", raw.Data)
	}
}

func TestPingPongFrames(t *testing.T) {
	ping := []byte(`{"type":"ping","payload":{"sent_at":123}}`)
	if envelopeType(ping) != TypePing {
		t.Fatalf("envelopeType = %q", envelopeType(ping))
	}
	pong := pongFrame(ping)
	if envelopeType(pong) != TypePong || !bytes.Contains(pong, []byte(`"sent_at":123`)) {
		t.Errorf("pong = %s", pong)
	}
	if envelopeType(pingFrame(timeZero())) != TypePing {
		t.Error("pingFrame is not a ping envelope")
	}
}

func TestConnectionStateString(t *testing.T) {
	cases := map[ConnectionState]string{
		StateDisconnected():   "disconnected",
		StateConnecting():     "connecting",
		StateConnected():      "connected",
		StateReconnecting(3): "reconnecting(3)",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%#v.String() = %q, want %q", s, s.String(), want)
		}
	}
}
