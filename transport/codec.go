package transport

import (
	"github.com/goccy/go-json"
)

// Codec turns published data into bytes for network transports and back.
// Decoded data is whatever the codec produces; JSON yields the generic
// map[string]any / []any / float64 / string / bool shapes.
type Codec interface {
	Marshal(data any) ([]byte, error)
	Unmarshal(b []byte) (any, error)
}

// JSON returns the default codec.
func JSON() Codec { return jsonCodec{} }

type jsonCodec struct{}

func (jsonCodec) Marshal(data any) ([]byte, error) {
	return json.Marshal(data)
}

func (jsonCodec) Unmarshal(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
