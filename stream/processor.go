// Package stream carries frames over byte-oriented transports.
//
// Each frame is preceded by a length prefix of primitive.Count width that
// excludes the prefix itself:
//
//	{ length(2) | frame }*
//
// Processor splits such a stream back into frames, tolerating partial reads
// and resynchronizing after a corrupt length.
package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/internal/options"
	"github.com/arloliu/telwire/internal/pool"
	"github.com/arloliu/telwire/primitive"
)

// LengthType is the wire type of the length prefix.
var LengthType = primitive.Count

// Processor extracts length-prefixed frames from a byte stream.
// It is safe for concurrent use, though a stream is normally fed by one reader.
type Processor struct {
	mu        sync.Mutex
	engine    endian.EndianEngine
	logger    zerolog.Logger
	buf       *pool.ByteBuffer
	pending   int
	stale     bool
	discarded uint64
}

// Option configures a Processor.
type Option = options.Option[*Processor]

// WithEngine sets the byte order of the length prefix.
func WithEngine(engine endian.EndianEngine) Option {
	return options.NoError(func(p *Processor) {
		if engine != nil {
			p.engine = engine
		}
	})
}

func WithLogger(logger zerolog.Logger) Option {
	return options.NoError(func(p *Processor) {
		p.logger = logger
	})
}

// NewProcessor creates a Processor waiting for its first length prefix.
func NewProcessor(opts ...Option) (*Processor, error) {
	p := &Processor{
		engine: endian.Default(),
		logger: zerolog.Nop(),
		buf:    pool.NewByteBuffer(pool.StreamBufferDefaultSize),
		stale:  true,
	}
	if err := options.Apply(p, opts...); err != nil {
		return nil, err
	}

	return p, nil
}

// Process appends data to the stream and returns every frame completed by it.
//
// A length above mtu is treated as corruption: everything buffered is
// discarded and the next bytes are read as a fresh length prefix. A zero
// length is skipped. Incomplete trailing bytes stay buffered for the next call.
func (p *Processor) Process(data []byte, mtu int) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = p.buf.Write(data)

	var frames [][]byte
	for {
		if p.stale {
			if p.buf.Len() < LengthType.Width() {
				break
			}
			length := int(LengthType.Get(p.engine, p.buf.B).(uint16))
			p.buf.Discard(LengthType.Width())

			if length > mtu {
				p.resync(length, mtu)
				break
			}
			p.pending = length
			p.stale = false
		}

		if p.buf.Len() < p.pending {
			break
		}
		if p.pending > 0 {
			frame := make([]byte, p.pending)
			copy(frame, p.buf.B[:p.pending])
			frames = append(frames, frame)
			p.buf.Discard(p.pending)
		}
		p.pending = 0
		p.stale = true
	}

	return frames
}

// resync drops all buffered bytes after a corrupt length. Callers hold p.mu.
func (p *Processor) resync(length, mtu int) {
	dropped := p.buf.Len() + LengthType.Width()
	p.discarded += uint64(dropped)
	p.logger.Warn().
		Int("length", length).
		Int("mtu", mtu).
		Int("discarded", dropped).
		Msg("implausible frame length, resynchronizing stream")

	p.buf.Reset()
	p.pending = 0
	p.stale = true
}

// Buffered returns the number of bytes held for the next call.
func (p *Processor) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.buf.Len()
}

// Discarded returns the total bytes dropped by resynchronization.
func (p *Processor) Discarded() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.discarded
}

// Reset drops all buffered state, e.g. after the transport reconnects.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Reset()
	p.pending = 0
	p.stale = true
}
