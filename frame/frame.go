// Package frame implements the MTU-bounded telemetry frame and its decoder.
//
// Every frame starts with the same fixed header and may end with a CRC-32:
//
//	app_id(2) | frame_type(1) | timestamp(8) | element_count(2) | payload | [crc32(4)]
//
// The payload depends on the frame type:
//
//	Data:    channel_id* ++ value*
//	Event:   channel_id* ++ (prev_value | prev_ts | curr_value | curr_ts)*
//	Message: message_type(1) | number(2) | checksum(4) | index(2) | total(2) | fragment
//
// For message frames element_count holds the fragment length in bytes.
//
// A Frame is built by appending elements until one no longer fits, then
// finalized. Finalize patches element_count in place, appends the deferred
// part of the payload and the optional CRC, and makes the frame immutable.
// Zero padding up to the MTU may follow.
package frame

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arloliu/telwire/buffer"
	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/value"
)

// Wire types of the header fields.
var (
	AppIDType     = primitive.ID
	TagType       = primitive.Enum
	TimestampType = primitive.Int64 // unix microseconds
	CountType     = primitive.Count
	CRCType       = primitive.CRC
	ChannelIDType = primitive.ID
)

const (
	// HeaderSize is the length of app_id, frame_type, timestamp and element_count.
	HeaderSize = 2 + 1 + 8 + 2
	// CRCSize is the length of the trailing CRC-32 field.
	CRCSize = 4
	// MessageHeaderSize is the length of the five message frame fields.
	MessageHeaderSize = 1 + 2 + 4 + 2 + 2
	// MaxElements is the largest element_count a frame can carry.
	MaxElements = 1<<16 - 1
)

// Config holds the settings shared by every frame of an environment.
type Config struct {
	MTU    int
	Engine endian.EndianEngine
	CRC    bool
}

// Overhead returns the bytes every frame spends on header and CRC.
func (c Config) Overhead() int {
	if c.CRC {
		return HeaderSize + CRCSize
	}

	return HeaderSize
}

// MessageCapacity returns how many fragment bytes fit in one message frame.
func (c Config) MessageCapacity() int {
	return min(c.MTU-c.Overhead()-MessageHeaderSize, MaxElements)
}

// Validate checks that a frame can hold at least one byte of payload.
func (c Config) Validate() error {
	if c.MTU <= c.Overhead()+MessageHeaderSize {
		return fmt.Errorf("%w: mtu %d, overhead %d", errs.ErrInvalidMTU, c.MTU, c.Overhead()+MessageHeaderSize)
	}

	return nil
}

// Stamp supplies the header values a frame is constructed with.
// Type must hold a format.FrameType; Timestamp holds unix microseconds.
type Stamp struct {
	AppID     *value.Value
	Type      *value.Value
	Timestamp *value.Value
}

// Frame is a telemetry frame under construction or finalized.
// It is safe for concurrent use.
type Frame struct {
	mu        sync.Mutex
	cfg       Config
	kind      format.FrameType
	buf       *buffer.Buffer
	countPos  int
	count     int
	used      int
	finalized bool
	body      body
}

// body is the per-frame-type part of a Frame.
type body interface {
	// finalize runs once, after element_count is patched and before the CRC is written.
	finalize(f *Frame) error
}

// New writes the header of a fresh frame.
//
// The frame type is taken from stamp.Type; a value that is not a known frame
// type produces a frame that accepts no elements.
func New(cfg Config, stamp Stamp) (*Frame, error) {
	if cfg.Engine == nil {
		cfg.Engine = endian.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tag, _ := stamp.Type.Get().(uint8)
	f := &Frame{
		cfg:  cfg,
		kind: format.FrameType(tag),
		buf:  buffer.New(cfg.Engine, cfg.MTU),
	}

	if stamp.AppID.Write(f.buf) != AppIDType.Width() ||
		stamp.Type.Write(f.buf) != TagType.Width() ||
		stamp.Timestamp.Write(f.buf) != TimestampType.Width() {
		return nil, fmt.Errorf("%w: header stamp has wrong primitive types", errs.ErrInvalidValue)
	}
	f.countPos = f.buf.Position()
	f.buf.Write(CountType, 0)
	f.used = cfg.Overhead()

	switch f.kind {
	case format.FrameData, format.FrameEvent:
		f.body = &channelBody{values: buffer.New(cfg.Engine, cfg.MTU)}
	case format.FrameMessage:
		f.body = &messageBody{}
	default:
		f.kind = format.FrameInvalid
		f.body = invalidBody{}
	}

	return f, nil
}

// Kind returns the frame type.
func (f *Frame) Kind() format.FrameType {
	return f.kind
}

// MTU returns the size limit of the frame.
func (f *Frame) MTU() int {
	return f.cfg.MTU
}

// Count returns the number of elements added so far.
func (f *Frame) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.count
}

// Used returns the bytes the frame occupies once finalized, excluding padding.
func (f *Frame) Used() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.used
}

// Remaining returns the free space left before the MTU.
func (f *Frame) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cfg.MTU - f.used
}

// Finalized reports whether Finalize has run.
func (f *Frame) Finalized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.finalized
}

// Bytes returns the encoded frame, including any padding.
// It fails with errs.ErrFrameNotFinalized before Finalize.
// The returned slice must not be modified.
func (f *Frame) Bytes() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.finalized {
		return nil, errs.ErrFrameNotFinalized
	}

	return f.buf.Bytes(), nil
}

// Len returns the encoded length, including any padding.
func (f *Frame) Len() int {
	return f.buf.Len()
}

// Finalize completes the frame and returns its size.
//
// When CRC is configured, writeCRC selects between the real CRC-32 of the
// frame and a random wrong value, used to produce corrupt frames in tests.
// Calling Finalize again returns the cached size.
func (f *Frame) Finalize(writeCRC bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finalized {
		return f.used, nil
	}

	f.buf.WriteAt(CountType, f.count, f.countPos)
	if err := f.body.finalize(f); err != nil {
		return 0, err
	}

	if f.cfg.CRC {
		sum := f.buf.CRC32(0)
		if !writeCRC {
			sum = corruptCRC(sum)
		}
		f.buf.Write(CRCType, sum)
	}
	f.finalized = true

	return f.used, nil
}

// Pad appends up to n zero bytes without exceeding the MTU and returns the number appended.
func (f *Frame) Pad(n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.finalized {
		return 0, errs.ErrFrameNotFinalized
	}
	n = min(n, f.cfg.MTU-f.buf.Len())
	if n <= 0 {
		return 0, nil
	}

	return f.buf.Append(make([]byte, n)), nil
}

// PadToMTU pads the frame to exactly MTU bytes.
func (f *Frame) PadToMTU() (int, error) {
	return f.Pad(f.cfg.MTU)
}

// reserve accounts for space bytes of a new element. Callers hold f.mu.
func (f *Frame) reserve(space int) error {
	switch {
	case f.finalized:
		return errs.ErrFrameFinalized
	case f.count >= MaxElements || f.used+space > f.cfg.MTU:
		return errs.ErrFrameFull
	}

	return nil
}

func corruptCRC(sum uint32) uint32 {
	for {
		if r := rand.Uint32(); r != sum {
			return r
		}
	}
}

type invalidBody struct{}

func (invalidBody) finalize(*Frame) error { return nil }

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMicro()
}

func fromUnixMicro(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}

	return time.UnixMicro(us)
}
