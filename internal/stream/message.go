package stream

import (
	"github.com/nghyane/gameday-net/internal/json"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/tidwall/gjson"
)

// Envelope types, after snake_case normalization. Servers may send either
// "scoreUpdate" or "score_update".
const (
	TypeActivationUpdate = "activation_update"
	TypeScoreUpdate      = "score_update"
	TypeStatusChange     = "status_change"
	TypeLevelUpdate      = "level_update"
	TypeAnnouncement     = "announcement"
	TypePing             = "ping"
	TypePong             = "pong"
)

// Message is a decoded inbound frame. The set of implementations is closed:
// ActivationUpdate, ScoreUpdate, StatusChange, LevelUpdate, Announcement, Raw.
type Message interface {
	gamedayMessage()
}

type ActivationUpdate struct {
	Payload json.RawMessage
}

type ScoreUpdate struct {
	Home int64
	Away int64
}

type StatusChange struct {
	Status  string
	Payload json.RawMessage
}

type LevelUpdate struct {
	Value int64
}

type Announcement struct {
	Text string
}

// Raw carries a frame that could not be decoded into any other variant.
type Raw struct {
	Data []byte
}

func (ActivationUpdate) gamedayMessage() {}
func (ScoreUpdate) gamedayMessage()      {}
func (StatusChange) gamedayMessage()     {}
func (LevelUpdate) gamedayMessage()      {}
func (Announcement) gamedayMessage()     {}
func (Raw) gamedayMessage()              {}

// envelopeType returns the normalized type of a {type, payload} frame, or ""
// when the frame is not a well-formed envelope.
func envelopeType(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	t := gjson.GetBytes(data, "type")
	if t.Type != gjson.String || t.Str == "" {
		return ""
	}
	return json.SnakeCase(t.Str)
}

// Decode turns a text frame into a Message. It never fails: anything it
// cannot interpret comes back as Raw with a private copy of the bytes.
func Decode(data []byte) Message {
	raw := func() Message { return Raw{Data: append([]byte(nil), data...)} }

	kind := envelopeType(data)
	if kind == "" {
		log.WithField("bytes", len(data)).Debug("stream: malformed envelope, delivering raw")
		return raw()
	}
	payload := gjson.GetBytes(data, "payload")

	switch kind {
	case TypeActivationUpdate:
		return ActivationUpdate{Payload: rawPayload(payload)}
	case TypeScoreUpdate:
		home, away := payload.Get("home"), payload.Get("away")
		if home.Type != gjson.Number || away.Type != gjson.Number {
			return raw()
		}
		return ScoreUpdate{Home: home.Int(), Away: away.Int()}
	case TypeStatusChange:
		return StatusChange{Status: payload.Get("status").String(), Payload: rawPayload(payload)}
	case TypeLevelUpdate:
		v := payload.Get("value")
		if v.Type != gjson.Number {
			return raw()
		}
		return LevelUpdate{Value: v.Int()}
	case TypeAnnouncement:
		text := payload.Get("text")
		if text.Type != gjson.String {
			return raw()
		}
		return Announcement{Text: text.Str}
	default:
		log.WithField("type", kind).Debug("stream: unknown envelope type, delivering raw")
		return raw()
	}
}

func rawPayload(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return nil
	}
	return json.RawMessage(r.Raw)
}
