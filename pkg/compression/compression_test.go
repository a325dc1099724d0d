package compression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Notes string   `json:"notes"`
}

func repetitiveProfile() profile {
	return profile{
		Name:  "inbox",
		Tags:  []string{"a", "b", "c"},
		Notes: strings.Repeat("the quick brown fox ", 100),
	}
}

func TestCompressorsRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("value cache ", 200))

	for _, algorithm := range []CompressorType{CompressorNone, CompressorGzip, CompressorZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			compressor, err := NewCompressor(NewDefaultConfig().WithEnabled(true).WithAlgorithm(algorithm))
			require.NoError(t, err)
			assert.Equal(t, string(algorithm), compressor.Name())

			compressed, err := compressor.Compress(data)
			require.NoError(t, err)
			if algorithm != CompressorNone {
				assert.Less(t, len(compressed), len(data))
			}

			restored, err := compressor.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, data, restored)
		})
	}
}

func TestNewCompressorDisabled(t *testing.T) {
	compressor, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.IsType(t, &NoOpCompressor{}, compressor)

	compressor, err = NewCompressor(NewDefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &NoOpCompressor{}, compressor)
}

func TestNewCompressorUnsupported(t *testing.T) {
	_, err := NewCompressor(NewDefaultConfig().WithEnabled(true).WithAlgorithm("brotli"))
	assert.ErrorContains(t, err, "unsupported compression algorithm")
}

func TestZstdLevel(t *testing.T) {
	compressor := NewZstdCompressor(19)
	data := []byte(strings.Repeat("level ", 500))

	compressed, err := compressor.Compress(data)
	require.NoError(t, err)
	restored, err := compressor.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, restored)

	_, err = compressor.Decompress([]byte("not zstd"))
	assert.Error(t, err)
}

func TestSerializeBelowMinSize(t *testing.T) {
	payload, compressed, err := SerializeAndCompress("short", NewGzipCompressor(-1), 1024)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, `"short"`, string(payload))
}

func TestCodecCompressesLargeValues(t *testing.T) {
	codec, err := NewCodec(NewDefaultConfig().WithEnabled(true).WithMinSize(64))
	require.NoError(t, err)
	assert.Equal(t, "zstd", codec.Name())

	encoded, err := codec.Encode(repetitiveProfile())
	require.NoError(t, err)
	assert.Equal(t, flagCompressed, encoded[0])

	var decoded profile
	require.NoError(t, codec.Decode(encoded, &decoded))
	assert.Equal(t, repetitiveProfile(), decoded)
}

func TestCodecKeepsSmallValuesPlain(t *testing.T) {
	codec, err := NewCodec(NewDefaultConfig().WithEnabled(true).WithAlgorithm(CompressorGzip))
	require.NoError(t, err)

	encoded, err := codec.Encode(int64(42))
	require.NoError(t, err)
	assert.Equal(t, []byte{flagPlain, '4', '2'}, encoded)

	var decoded int64
	require.NoError(t, codec.Decode(encoded, &decoded))
	assert.Equal(t, int64(42), decoded)
}

func TestCodecRejectsBadInput(t *testing.T) {
	codec, err := NewCodec(nil)
	require.NoError(t, err)

	var target string
	assert.Error(t, codec.Decode(nil, &target))
	assert.ErrorContains(t, codec.Decode([]byte{7, '"', '"'}, &target), "unknown value header")
	assert.Error(t, codec.Decode([]byte{flagPlain, '{'}, &target))

	_, err = codec.Encode(func() {})
	assert.ErrorContains(t, err, "failed to serialize value")
}
