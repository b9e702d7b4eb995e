package compress

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// S2Compressor uses the S2 block format. Message payloads are compressed
// whole, so the block format is used instead of the framed stream.
type S2Compressor struct{}

var _ Codec = (*S2Compressor)(nil)

func NewS2Compressor() S2Compressor {
	return S2Compressor{}
}

func (c S2Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return s2.EncodeBetter(nil, data), nil
}

// Decompress checks the length recorded in the block before allocating,
// so a reassembled payload cannot claim more than maxDecodedSize bytes.
func (c S2Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("s2 decompression failed: %w", err)
	}
	if n > maxDecodedSize {
		return nil, fmt.Errorf("s2 decompression failed: %d bytes exceeds limit %d", n, maxDecodedSize)
	}

	out, err := s2.Decode(make([]byte, n), data)
	if err != nil {
		return nil, fmt.Errorf("s2 decompression failed: %w", err)
	}

	return out, nil
}
