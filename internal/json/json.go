// Package json is a drop-in replacement for the parts of encoding/json this
// module uses, backed by bytedance/sonic.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
)

// api keeps sonic's output byte-compatible with encoding/json (sorted map
// keys, HTML escaping) so encoded bodies are stable across retries.
var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return api.Valid(data)
}

type (
	RawMessage         = stdjson.RawMessage
	Number             = stdjson.Number
	Marshaler          = stdjson.Marshaler
	Unmarshaler        = stdjson.Unmarshaler
	SyntaxError        = stdjson.SyntaxError
	UnmarshalTypeError = stdjson.UnmarshalTypeError
)

// Decoder reads JSON values from an input stream.
type Decoder struct {
	dec *decoder.StreamDecoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decoder.NewStreamDecoder(r)}
}

func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}

func (d *Decoder) UseNumber() {
	d.dec.UseNumber()
}
