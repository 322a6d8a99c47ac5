package codec

import "github.com/bytedance/sonic"

var jsonConfig = sonic.ConfigStd

// JSON encodes payloads as JSON using a stdlib-compatible sonic configuration.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

func (JSON) Decode(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

func (JSON) ContentType() string { return ContentTypeJSON }
