// Package framer packs channel values, change events and byte messages into
// sequences of MTU-bounded frames.
//
// Data and event elements are appended to the current frame until one does
// not fit; the full frame is finalized and handed to the Sink, and the element
// is retried on a fresh frame. Rollover frames keep the timestamp of the
// first frame of the batch.
//
// Messages are split into fragments of Config.MessageCapacity() bytes. All
// fragments share the message type, a per-type sequence number, the CRC-32
// of the whole (possibly compressed) payload and the fragment total.
package framer

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/channel"
	"github.com/arloliu/telwire/compress"
	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/internal/options"
	"github.com/arloliu/telwire/value"
)

// Sink receives finalized frames in the order they are built.
type Sink interface {
	Send(f *frame.Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f *frame.Frame) error

func (fn SinkFunc) Send(f *frame.Frame) error {
	return fn(f)
}

// Framer builds frames for one application id. It is safe for concurrent
// use; each build call holds the Framer's lock for the whole batch.
type Framer struct {
	mu          sync.Mutex
	cfg         frame.Config
	pad         bool
	basis       *float64
	compression format.CompressionType
	codec       compress.Codec
	logger      zerolog.Logger

	appID      *value.Value
	tags       map[format.FrameType]*value.Value
	timestamps map[format.FrameType]*value.Value
	numbers    map[uint8]*value.Value
}

// New creates a Framer. Defaults: DefaultMTU, big-endian, CRC enabled, no
// compression, random app id.
func New(opts ...Option) (*Framer, error) {
	f := &Framer{
		cfg: frame.Config{
			MTU:    DefaultMTU,
			Engine: endian.Default(),
			CRC:    true,
		},
		compression: format.CompressionNone,
		codec:       compress.NewNoOpCompressor(),
		logger:      zerolog.Nop(),
		tags:        make(map[format.FrameType]*value.Value),
		timestamps:  make(map[format.FrameType]*value.Value),
		numbers:     make(map[uint8]*value.Value),
	}
	if err := options.Apply(f, opts...); err != nil {
		return nil, err
	}
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}

	f.appID, _ = value.NewWith(frame.AppIDType, DeriveAppID(f.basis))
	for _, kind := range append([]format.FrameType{format.FrameInvalid}, format.FrameTypes...) {
		f.tags[kind], _ = value.NewWith(frame.TagType, uint8(kind))
		f.timestamps[kind] = value.New(frame.TimestampType)
	}

	return f, nil
}

// DeriveAppID maps basis into the app id range as
// round(|basis| * max), using 1/|basis| when |basis| > 1.
// A nil basis draws a uniformly random id.
func DeriveAppID(basis *float64) uint16 {
	maxID := frame.AppIDType.Max()
	if basis == nil {
		return uint16(rand.Uint64N(maxID + 1))
	}

	b := math.Abs(*basis)
	if b > 1 {
		b = 1 / b
	}
	if math.IsNaN(b) {
		b = 0
	}

	return uint16(math.Round(b * float64(maxID)))
}

func (f *Framer) AppID() uint16 {
	return f.appID.Get().(uint16)
}

// Config returns the frame settings shared by all frames of this Framer.
func (f *Framer) Config() frame.Config {
	return f.cfg
}

func (f *Framer) Compression() format.CompressionType {
	return f.compression
}

// NewFrame allocates an empty frame of kind. A zero ts keeps the timestamp of
// the previous frame of the same kind. Unknown kinds produce an invalid frame.
func (f *Framer) NewFrame(kind format.FrameType, ts time.Time) (*frame.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.newFrame(kind, ts)
}

func (f *Framer) newFrame(kind format.FrameType, ts time.Time) (*frame.Frame, error) {
	if !kind.Valid() {
		kind = format.FrameInvalid
	}
	stamp := f.timestamps[kind]
	if !ts.IsZero() {
		stamp.SetAt(ts.UnixMicro(), ts)
	}

	return frame.New(f.cfg, frame.Stamp{
		AppID:     f.appID,
		Type:      f.tags[kind],
		Timestamp: stamp,
	})
}

// packer accumulates elements of one kind into frames for a single batch.
type packer struct {
	f      *Framer
	kind   format.FrameType
	ts     time.Time
	sink   Sink
	cur    *frame.Frame
	frames int
}

// add appends one element through fn, rolling over to a new frame once when
// the current frame is full.
func (p *packer) add(fn func(fr *frame.Frame) error) error {
	if p.cur == nil {
		fr, err := p.f.newFrame(p.kind, p.ts)
		if err != nil {
			return err
		}
		p.cur = fr
	}

	err := fn(p.cur)
	if !errors.Is(err, errs.ErrFrameFull) {
		return err
	}
	if p.cur.Count() == 0 {
		return fmt.Errorf("%w: does not fit an empty %d byte frame", errs.ErrElementTooLarge, p.f.cfg.MTU)
	}

	if err := p.flush(); err != nil {
		return err
	}
	p.f.logger.Debug().Stringer("kind", p.kind).Int("frames", p.frames).Msg("frame rollover")

	// rollover frames share the batch timestamp
	fr, err := p.f.newFrame(p.kind, time.Time{})
	if err != nil {
		return err
	}
	p.cur = fr
	if err := fn(p.cur); err != nil {
		if errors.Is(err, errs.ErrFrameFull) {
			return fmt.Errorf("%w: does not fit an empty %d byte frame", errs.ErrElementTooLarge, p.f.cfg.MTU)
		}

		return err
	}

	return nil
}

// flush finalizes and sends the current frame if it holds any element.
func (p *packer) flush() error {
	fr := p.cur
	p.cur = nil
	if fr == nil || fr.Count() == 0 {
		return nil
	}

	if _, err := fr.Finalize(true); err != nil {
		return err
	}
	if p.f.pad {
		if _, err := fr.PadToMTU(); err != nil {
			return err
		}
	}
	if err := p.sink.Send(fr); err != nil {
		return err
	}
	p.frames++

	return nil
}

// BuildDataFrames packs the value of every channel due at now, in slice
// order, and marks those channels emitted.
//
// It returns the number of frames sent to sink and the number of channels
// packed. A channel that cannot fit an empty frame fails with
// errs.ErrElementTooLarge; frames completed before the failure have been sent.
func (f *Framer) BuildDataFrames(now time.Time, channels []*channel.Channel, sink Sink) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := &packer{f: f, kind: format.FrameData, ts: now, sink: sink}
	elements := 0
	for _, ch := range channels {
		if !ch.Due(now) {
			continue
		}
		err := p.add(func(fr *frame.Frame) error {
			return fr.AddData(ch.ID(), ch.Value())
		})
		if err != nil {
			return p.frames, elements, fmt.Errorf("channel %q: %w", ch.Name(), err)
		}
		ch.MarkEmitted(now)
		elements++
	}

	if err := p.flush(); err != nil {
		return p.frames, elements, err
	}

	return p.frames, elements, nil
}

// BuildEventFrames drains q and packs its events in queue order.
//
// When an event cannot be packed the events after it are put back on the
// queue, the frame in progress is still sent, and the error is returned.
func (f *Framer) BuildEventFrames(now time.Time, q *channel.EventQueue, sink Sink) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := q.Drain()
	p := &packer{f: f, kind: format.FrameEvent, ts: now, sink: sink}
	elements := 0
	var buildErr error
	for i, ev := range events {
		err := p.add(func(fr *frame.Frame) error {
			return fr.AddEvent(ev)
		})
		if err != nil {
			q.Requeue(events[i+1:])
			buildErr = fmt.Errorf("event for channel %d: %w", ev.ChannelID, err)

			break
		}
		elements++
	}

	if err := p.flush(); err != nil {
		return p.frames, elements, errors.Join(buildErr, err)
	}

	return p.frames, elements, buildErr
}

// SerializeMessage compresses payload with the configured codec and splits it
// into message frames. An empty payload yields one frame with an empty fragment.
//
// It returns the finalized frames in fragment order and their total encoded size.
func (f *Framer) SerializeMessage(msgType uint8, payload []byte, ts time.Time) ([]*frame.Frame, int, error) {
	data, err := f.codec.Compress(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("compress message type %d: %w", msgType, err)
	}

	capacity := f.cfg.MessageCapacity()
	total := max(1, (len(data)+capacity-1)/capacity)
	if uint64(total) > frame.FragmentTotalType.Max() {
		return nil, 0, fmt.Errorf("%w: %d bytes need %d fragments", errs.ErrMessageTooLarge, len(data), total)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fields := frame.MessageFields{
		Type:     msgType,
		Number:   f.nextNumber(msgType),
		Checksum: crc32.ChecksumIEEE(data),
		Total:    uint16(total),
	}

	frames := make([]*frame.Frame, 0, total)
	size := 0
	for i := range total {
		stamp := ts
		if i > 0 {
			stamp = time.Time{}
		}
		fr, err := f.newFrame(format.FrameMessage, stamp)
		if err != nil {
			return nil, 0, err
		}

		fields.Index = uint16(i)
		chunk := data[min(i*capacity, len(data)):min((i+1)*capacity, len(data))]
		if err := fr.Initialize(fields, chunk); err != nil {
			return nil, 0, err
		}
		n, err := fr.Finalize(true)
		if err != nil {
			return nil, 0, err
		}

		frames = append(frames, fr)
		size += n
	}

	f.logger.Debug().
		Uint8("type", msgType).
		Uint16("number", fields.Number).
		Int("bytes", len(data)).
		Int("fragments", total).
		Msg("message serialized")

	return frames, size, nil
}

// nextNumber returns the sequence number for the next message of msgType.
// Numbers start at 0 and wrap after the largest id.
func (f *Framer) nextNumber(msgType uint8) uint16 {
	seq, ok := f.numbers[msgType]
	if !ok {
		seq = value.New(frame.MessageNumberType)
		f.numbers[msgType] = seq
	}

	n, _ := seq.Get().(uint16)
	if !seq.Add(1) {
		seq.Set(0)
	}

	return n
}
