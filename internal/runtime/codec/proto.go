package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Proto encodes protobuf messages as canonical JSON (protojson). Bodies stay
// human-readable and interoperate with non-Go publishers.
type Proto struct{}

var (
	protoMarshal   = protojson.MarshalOptions{EmitUnpopulated: true}
	protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
)

func (Proto) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("liquidbus: %T is not a proto.Message", v)
	}
	return protoMarshal.Marshal(msg)
}

func (Proto) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("liquidbus: %T is not a proto.Message", v)
	}
	return protoUnmarshal.Unmarshal(data, msg)
}

func (Proto) ContentType() string { return ContentTypeProto }
