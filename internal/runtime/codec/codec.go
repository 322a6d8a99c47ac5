// Package codec turns payload values into broker message bodies and back.
// Bodies are text-safe: compressed payloads travel as base64-encoded gzip so
// they survive brokers that treat bodies as strings.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// Content types carried in the message attributes to describe the body.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeGzip  = "application/gzip"
	ContentTypeProto = "application/protobuf"
)

// Codec encodes and decodes message payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	ContentType() string
}

// Compress gzips data and encodes the result as standard base64.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(out, buf.Bytes())
	return out, nil
}

// Decompress reverses Compress. Raw gzip bytes without the base64 layer are
// accepted too, for producers outside this library.
func Decompress(data []byte) ([]byte, error) {
	compressed := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(compressed, data)
	if err != nil {
		compressed = data
	} else {
		compressed = compressed[:n]
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return out, nil
}
