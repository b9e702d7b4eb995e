// Package buffer implements the growable, cursor-based byte store that frames
// are built in and decoded from.
//
// A Buffer reads and writes primitive.Type values at its cursor or at an
// explicit position. Positioned operations leave the cursor where it was, so
// a header field can be patched while sequential appends continue.
//
// Every operation takes the buffer's lock; a Buffer is safe for concurrent use.
package buffer

import (
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/internal/pool"
	"github.com/arloliu/telwire/primitive"
)

// Buffer is a byte store with a cursor and typed accessors.
type Buffer struct {
	mu        sync.Mutex
	store     *pool.ByteBuffer
	pos       int
	immutable bool
	engine    endian.EndianEngine
}

// New creates an empty, writable buffer with the given initial capacity.
func New(engine endian.EndianEngine, capacity int) *Buffer {
	if engine == nil {
		engine = endian.Default()
	}

	return &Buffer{
		store:  pool.NewByteBuffer(capacity),
		engine: engine,
	}
}

// Wrap creates an immutable buffer reading data in place.
func Wrap(engine endian.EndianEngine, data []byte) *Buffer {
	if engine == nil {
		engine = endian.Default()
	}

	return &Buffer{
		store:     &pool.ByteBuffer{B: data},
		immutable: true,
		engine:    engine,
	}
}

// Engine returns the byte order of the buffer.
func (b *Buffer) Engine() endian.EndianEngine {
	return b.engine
}

// Len returns the logical size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.store.Len()
}

// Position returns the cursor.
func (b *Buffer) Position() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pos
}

// Remaining returns the number of bytes between the cursor and the end.
func (b *Buffer) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.store.Len() - b.pos
}

// SetPosition moves the cursor to pos, which must lie in [0, Len].
func (b *Buffer) SetPosition(pos int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.setPosition(pos)
}

func (b *Buffer) setPosition(pos int) error {
	if pos < 0 || pos > b.store.Len() {
		return fmt.Errorf("%w: %d not in [0, %d]", errs.ErrInvalidPosition, pos, b.store.Len())
	}
	b.pos = pos

	return nil
}

// Advance moves the cursor forward by n bytes.
func (b *Buffer) Advance(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.setPosition(b.pos + n)
}

// Immutable reports whether writes are rejected.
func (b *Buffer) Immutable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.immutable
}

// Freeze makes the buffer immutable.
func (b *Buffer) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.immutable = true
}

// Bytes returns the contents [0, Len). The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.store.Bytes()
}

// Read decodes a value of type t at the cursor and advances past it.
//
// It fails with errs.ErrBufferUnderflow when fewer than t.Width() bytes remain.
func (b *Buffer) Read(t primitive.Type) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, err := b.readAt(t, b.pos)
	if err != nil {
		return nil, err
	}
	b.pos += t.Width()

	return v, nil
}

// ReadAt decodes a value of type t at pos without moving the cursor.
func (b *Buffer) ReadAt(t primitive.Type, pos int) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readAt(t, pos)
}

// ReadBytes copies the next n bytes and advances the cursor past them.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 || b.pos+n > b.store.Len() {
		return nil, fmt.Errorf("%w: need %d bytes at %d, size %d", errs.ErrBufferUnderflow, n, b.pos, b.store.Len())
	}
	out := make([]byte, n)
	copy(out, b.store.B[b.pos:b.pos+n])
	b.pos += n

	return out, nil
}

// Write encodes v at the cursor and advances past it, growing the buffer as needed.
//
// It returns the number of bytes written: 0 when the buffer is immutable or
// v is not valid for t.
func (b *Buffer) Write(t primitive.Type, v any) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.writeAt(t, v, b.pos)
	b.pos += n

	return n
}

// WriteAt encodes v at pos without moving the cursor. pos must lie in [0, Len].
func (b *Buffer) WriteAt(t primitive.Type, v any, pos int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pos < 0 || pos > b.store.Len() {
		return 0
	}

	return b.writeAt(t, v, pos)
}

// Append adds raw bytes at the end and moves the cursor to the new end.
func (b *Buffer) Append(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.immutable {
		return 0
	}
	_, _ = b.store.Write(p)
	b.pos = b.store.Len()

	return len(p)
}

// CRC32 computes the IEEE CRC-32 of [0, Len) starting from seed.
func (b *Buffer) CRC32(seed uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return crc32.Update(seed, crc32.IEEETable, b.store.Bytes())
}

func (b *Buffer) readAt(t primitive.Type, pos int) (any, error) {
	w := t.Width()
	if t.IsZero() {
		return nil, errs.ErrInvalidValue
	}
	if pos < 0 || pos+w > b.store.Len() {
		return nil, fmt.Errorf("%w: need %d bytes at %d, size %d", errs.ErrBufferUnderflow, w, pos, b.store.Len())
	}

	return t.Get(b.engine, b.store.B[pos:pos+w]), nil
}

func (b *Buffer) writeAt(t primitive.Type, v any, pos int) int {
	if b.immutable {
		return 0
	}
	cv, ok := t.Coerce(v)
	if !ok {
		return 0
	}

	w := t.Width()
	if end := pos + w; end > b.store.Len() {
		b.store.ExtendOrGrow(end - b.store.Len())
	}
	t.Put(b.engine, b.store.B[pos:pos+w], cv)

	return w
}
