package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ContentTypeZstdJSON labels blobs written by EncodeJSON.
const ContentTypeZstdJSON = "application/zstd+json"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Encoders and decoders are pooled; each holds sizeable window buffers.
var (
	encoderPool = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
			}
			return enc
		},
	}
	decoderPool = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return dec
		},
	}
)

// EncodeJSON marshals v and compresses it with zstd.
func EncodeJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// DecodeJSON decompresses data and unmarshals it into v. Uncompressed JSON
// is accepted as-is so hand-written index files remain readable.
func DecodeJSON(data []byte, v any) error {
	raw := data
	if bytes.HasPrefix(data, zstdMagic) {
		dec := decoderPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(data, nil)
		decoderPool.Put(dec)
		if err != nil {
			return fmt.Errorf("zstd decompression: %w", err)
		}
		raw = out
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
