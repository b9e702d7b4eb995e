package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewByteBuffer(t *testing.T) {
	bb := NewByteBuffer(64)

	require.NotNil(t, bb)
	assert.Equal(t, 0, bb.Len())
	assert.Equal(t, 64, bb.Cap())
}

func TestByteBuffer_Grow(t *testing.T) {
	t.Run("no growth when capacity suffices", func(t *testing.T) {
		bb := NewByteBuffer(64)
		bb.Grow(64)
		assert.Equal(t, 64, bb.Cap())
	})

	t.Run("small buffers grow by default size", func(t *testing.T) {
		bb := NewByteBuffer(8)
		_, _ = bb.Write([]byte("abcdefgh"))
		bb.Grow(1)
		assert.GreaterOrEqual(t, bb.Cap(), 8+FrameBufferDefaultSize)
		assert.Equal(t, []byte("abcdefgh"), bb.Bytes())
	})

	t.Run("large request wins", func(t *testing.T) {
		bb := NewByteBuffer(0)
		bb.Grow(FrameBufferDefaultSize * 3)
		assert.GreaterOrEqual(t, bb.Cap(), FrameBufferDefaultSize*3)
	})
}

func TestByteBuffer_ExtendOrGrow(t *testing.T) {
	bb := NewByteBuffer(2)
	bb.B = append(bb.B, 0xff, 0xff)
	bb.B = bb.B[:0]

	bb.ExtendOrGrow(4)

	require.Equal(t, []byte{0, 0, 0, 0}, bb.Bytes())
}

func TestByteBuffer_Discard(t *testing.T) {
	bb := NewByteBuffer(16)
	_, _ = bb.Write([]byte("hello world"))

	bb.Discard(6)
	require.Equal(t, []byte("world"), bb.Bytes())

	bb.Discard(100)
	require.Equal(t, 0, bb.Len())
}

func TestByteBuffer_WriteTo(t *testing.T) {
	bb := NewByteBuffer(16)
	_, _ = bb.Write([]byte("payload"))

	var out bytes.Buffer
	n, err := bb.WriteTo(&out)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
	require.Equal(t, "payload", out.String())
}

func TestByteBufferPool(t *testing.T) {
	p := NewByteBufferPool(32, 64)

	bb := p.Get()
	require.NotNil(t, bb)
	_, _ = bb.Write([]byte("data"))
	p.Put(bb)

	again := p.Get()
	require.Equal(t, 0, again.Len(), "pooled buffers come back empty")

	p.Put(nil)

	big := NewByteBuffer(128)
	p.Put(big) // above threshold, dropped

	sb := GetStreamBuffer()
	require.NotNil(t, sb)
	PutStreamBuffer(sb)
}
