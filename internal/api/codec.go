package api

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype the chat service speaks.
const CodecName = "json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the plain Go request and response types over gRPC as
// JSON documents. Field names follow the json struct tags.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
