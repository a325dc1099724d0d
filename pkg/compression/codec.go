package compression

import (
	"fmt"
)

// Header flags prefixed to every encoded value
const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// Codec encodes values as JSON with a one-byte header recording whether the
// payload that follows is compressed. It is safe for concurrent use.
type Codec struct {
	compressor Compressor
	minSize    int
}

// NewCodec creates a codec from a compression configuration. A nil config
// produces a codec that never compresses.
func NewCodec(config *Config) (*Codec, error) {
	compressor, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}
	minSize := 0
	if config != nil {
		minSize = config.MinSize
	}
	return &Codec{compressor: compressor, minSize: minSize}, nil
}

// Name returns the name of the underlying compressor
func (c *Codec) Name() string {
	return c.compressor.Name()
}

// Encode serializes a value and prefixes the header flag
func (c *Codec) Encode(value any) ([]byte, error) {
	payload, compressed, err := SerializeAndCompress(value, c.compressor, c.minSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+len(payload))
	if compressed {
		out[0] = flagCompressed
	}
	copy(out[1:], payload)
	return out, nil
}

// Decode reverses Encode into target
func (c *Codec) Decode(data []byte, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty encoded value")
	}

	switch data[0] {
	case flagPlain:
		return DecompressAndDeserialize(data[1:], false, c.compressor, target)
	case flagCompressed:
		return DecompressAndDeserialize(data[1:], true, c.compressor, target)
	default:
		return fmt.Errorf("unknown value header %#x", data[0])
	}
}
