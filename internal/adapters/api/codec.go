package api

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec replaces connect's protobuf-only JSON codec so plain Go structs
// can travel over the Connect protocol as application/json.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// WithJSONCodec is the option both handlers and clients of this service need
func WithJSONCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
