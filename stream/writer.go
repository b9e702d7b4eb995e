package stream

import (
	"fmt"
	"io"

	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/internal/pool"
)

// AppendFramed appends the length prefix and data to dst.
func AppendFramed(dst []byte, engine endian.EndianEngine, data []byte) ([]byte, error) {
	if uint64(len(data)) > LengthType.Max() {
		return dst, fmt.Errorf("%w: %d byte frame exceeds the length prefix", errs.ErrInvalidValue, len(data))
	}
	if engine == nil {
		engine = endian.Default()
	}

	dst = LengthType.Append(engine, dst, uint16(len(data)))

	return append(dst, data...), nil
}

// WriteFrames writes finalized frames to w as one length-prefixed batch.
func WriteFrames(w io.Writer, engine endian.EndianEngine, frames ...*frame.Frame) (int64, error) {
	bb := pool.GetStreamBuffer()
	defer pool.PutStreamBuffer(bb)

	for i, f := range frames {
		data, err := f.Bytes()
		if err != nil {
			return 0, fmt.Errorf("frame %d: %w", i, err)
		}
		if bb.B, err = AppendFramed(bb.B, engine, data); err != nil {
			return 0, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	return bb.WriteTo(w)
}
