package fetcher

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

var decoder, _ = zstd.NewReader(nil)

// ReadBlob reads a cached blob and decompresses it. Blobs that are not zstd
// frames are returned as stored.
func ReadBlob(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return Decompress(data), nil
}

// Decompress decodes zstd data, falling back to the input when it is not a valid frame.
func Decompress(data []byte) []byte {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return data
	}
	return out
}
