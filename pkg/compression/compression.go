package compression

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses encoded attribute values
type Compressor interface {
	// Compress compresses the given data and returns compressed bytes
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses the given compressed bytes
	Decompress(compressed []byte) ([]byte, error)

	// Name returns the name/identifier of the compressor
	Name() string
}

// CompressorType represents different compression algorithms
type CompressorType string

const (
	CompressorNone CompressorType = "none"
	CompressorGzip CompressorType = "gzip"
	CompressorZstd CompressorType = "zstd"
)

// Config holds compression configuration
type Config struct {
	// Enabled determines whether compression is enabled
	Enabled bool

	// Algorithm specifies which compression algorithm to use
	Algorithm CompressorType

	// MinSize is the minimum encoded size in bytes before compression is applied
	MinSize int

	// Level is the compression level: 1-9 for gzip, 1-22 for zstd (mapped onto
	// the nearest encoder level). 0 selects the algorithm default.
	Level int
}

// NewDefaultConfig creates a default compression configuration
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Algorithm: CompressorZstd,
		MinSize:   256,
		Level:     0,
	}
}

// WithEnabled sets whether compression is enabled
func (c *Config) WithEnabled(enabled bool) *Config {
	c.Enabled = enabled
	return c
}

// WithAlgorithm sets the compression algorithm
func (c *Config) WithAlgorithm(algorithm CompressorType) *Config {
	c.Algorithm = algorithm
	return c
}

// WithMinSize sets the minimum size threshold for compression
func (c *Config) WithMinSize(minSize int) *Config {
	c.MinSize = minSize
	return c
}

// WithLevel sets the compression level
func (c *Config) WithLevel(level int) *Config {
	c.Level = level
	return c
}

// NoOpCompressor returns data unchanged
type NoOpCompressor struct{}

// NewNoOpCompressor creates a new no-op compressor
func NewNoOpCompressor() *NoOpCompressor {
	return &NoOpCompressor{}
}

// Compress returns the data unchanged
func (n *NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns the data unchanged
func (n *NoOpCompressor) Decompress(compressed []byte) ([]byte, error) {
	return compressed, nil
}

// Name returns the compressor name
func (n *NoOpCompressor) Name() string {
	return string(CompressorNone)
}

// GzipCompressor implements compression using gzip
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a new gzip compressor with the specified level
func NewGzipCompressor(level int) *GzipCompressor {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &GzipCompressor{level: level}
}

// Compress compresses data using gzip
func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write compressed data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress decompresses gzip data
func (g *GzipCompressor) Decompress(compressed []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed data: %w", err)
	}

	return data, nil
}

// Name returns the compressor name
func (g *GzipCompressor) Name() string {
	return string(CompressorGzip)
}

// ZstdCompressor implements compression using zstd block encoding.
// Encoders and decoders are pooled since both are costly to create.
type ZstdCompressor struct {
	level    zstd.EncoderLevel
	encoders sync.Pool
	decoders sync.Pool
}

// NewZstdCompressor creates a new zstd compressor with the specified level
func NewZstdCompressor(level int) *ZstdCompressor {
	encoderLevel := zstd.SpeedDefault
	if level > 0 {
		encoderLevel = zstd.EncoderLevelFromZstd(level)
	}
	return &ZstdCompressor{level: encoderLevel}
}

func (z *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	if v := z.encoders.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
}

func (z *ZstdCompressor) decoder() (*zstd.Decoder, error) {
	if v := z.decoders.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Compress compresses data using zstd
func (z *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := z.encoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer z.encoders.Put(enc)

	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decompresses zstd data
func (z *ZstdCompressor) Decompress(compressed []byte) ([]byte, error) {
	dec, err := z.decoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer z.decoders.Put(dec)

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed data: %w", err)
	}
	return data, nil
}

// Name returns the compressor name
func (z *ZstdCompressor) Name() string {
	return string(CompressorZstd)
}

// NewCompressor creates a new compressor based on the configuration
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil || !config.Enabled {
		return NewNoOpCompressor(), nil
	}

	switch config.Algorithm {
	case CompressorNone:
		return NewNoOpCompressor(), nil
	case CompressorGzip:
		return NewGzipCompressor(config.Level), nil
	case CompressorZstd:
		return NewZstdCompressor(config.Level), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

// SerializeAndCompress converts a value to JSON and compresses it if it meets
// the size threshold and compression actually makes it smaller.
func SerializeAndCompress(value any, compressor Compressor, minSize int) ([]byte, bool, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("failed to serialize value: %w", err)
	}

	if len(serialized) < minSize {
		return serialized, false, nil
	}

	compressed, err := compressor.Compress(serialized)
	if err != nil {
		return nil, false, fmt.Errorf("failed to compress data: %w", err)
	}

	if len(compressed) >= len(serialized) {
		return serialized, false, nil
	}

	return compressed, true, nil
}

// DecompressAndDeserialize decompresses and deserializes data back to a value
func DecompressAndDeserialize(data []byte, isCompressed bool, compressor Compressor, target any) error {
	serialized := data
	if isCompressed {
		var err error
		serialized, err = compressor.Decompress(data)
		if err != nil {
			return fmt.Errorf("failed to decompress data: %w", err)
		}
	}

	if err := json.Unmarshal(serialized, target); err != nil {
		return fmt.Errorf("failed to deserialize value: %w", err)
	}

	return nil
}

// Ensure interfaces are implemented
var (
	_ Compressor = (*NoOpCompressor)(nil)
	_ Compressor = (*GzipCompressor)(nil)
	_ Compressor = (*ZstdCompressor)(nil)
)
