package frame

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/arloliu/telwire/buffer"
	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/value"
)

// ChannelTypes resolves the primitive type of a channel id.
type ChannelTypes interface {
	ChannelType(id uint16) (primitive.Type, bool)
}

// ChannelTypesFunc adapts a function to ChannelTypes.
type ChannelTypesFunc func(id uint16) (primitive.Type, bool)

func (fn ChannelTypesFunc) ChannelType(id uint16) (primitive.Type, bool) {
	return fn(id)
}

// DecodeOptions configures Decode. Engine and CRC must match the sender.
type DecodeOptions struct {
	Engine endian.EndianEngine
	CRC    bool
	// AppID is compared with the frame's app id when CheckAppID is set.
	AppID      uint16
	CheckAppID bool
	// Channels is required to decode data and event frames.
	Channels ChannelTypes
}

// Header is the decoded fixed header.
type Header struct {
	AppID     uint16
	Type      format.FrameType
	RawType   uint8 // the type byte as received
	Timestamp time.Time
	Count     uint16
}

// DataElement is one decoded (channel id, value) pair.
type DataElement struct {
	ChannelID uint16
	Value     any
}

// EventElement is one decoded change.
type EventElement struct {
	ChannelID uint16
	Previous  value.Sample
	Current   value.Sample
}

// Fragment is a decoded message frame payload.
type Fragment struct {
	MessageFields
	Bytes []byte
}

// Parsed is the result of Decode.
//
// Header holds whatever was read before a failure. When Valid is false, Err
// says why; Data, Events and Message are only set for valid frames.
type Parsed struct {
	Header  Header
	Valid   bool
	Err     error
	Size    int // bytes up to and including the CRC; padding is not counted
	Data    []DataElement
	Events  []EventElement
	Message *Fragment
}

// Decode parses one frame from data. Trailing bytes after the frame (padding) are ignored.
func Decode(data []byte, opts DecodeOptions) Parsed {
	if opts.Engine == nil {
		opts.Engine = endian.Default()
	}

	var p Parsed
	buf := buffer.Wrap(opts.Engine, data)
	if err := readHeader(buf, &p.Header); err != nil {
		return p.fail(err)
	}

	if opts.CheckAppID && p.Header.AppID != opts.AppID {
		return p.fail(fmt.Errorf("%w: got %d, want %d", errs.ErrAppIDMismatch, p.Header.AppID, opts.AppID))
	}

	var err error
	switch p.Header.Type {
	case format.FrameData:
		p.Data, err = decodeData(buf, int(p.Header.Count), opts.Channels)
	case format.FrameEvent:
		p.Events, err = decodeEvents(buf, int(p.Header.Count), opts.Channels)
	case format.FrameMessage:
		p.Message, err = decodeMessage(buf, int(p.Header.Count))
	case format.FrameInvalid:
		err = fmt.Errorf("%w: 0x%02x", errs.ErrUnknownFrameType, p.Header.RawType)
	}
	if err != nil {
		p.Data, p.Events, p.Message = nil, nil, nil
		return p.fail(err)
	}

	end := buf.Position()
	p.Size = end
	if opts.CRC {
		v, err := buf.Read(CRCType)
		if err != nil {
			return p.fail(fmt.Errorf("%w: missing crc", errs.ErrTruncatedFrame))
		}
		p.Size = buf.Position()
		want := v.(uint32)
		if got := crc32.ChecksumIEEE(data[:end]); got != want {
			p.Data, p.Events, p.Message = nil, nil, nil
			return p.fail(fmt.Errorf("%w: computed %08x, frame carries %08x", errs.ErrChecksumMismatch, got, want))
		}
	}
	p.Valid = true

	return p
}

func (p Parsed) fail(err error) Parsed {
	p.Valid = false
	p.Err = err

	return p
}

func readHeader(buf *buffer.Buffer, h *Header) error {
	if buf.Len() < HeaderSize {
		return fmt.Errorf("%w: %d bytes, header needs %d", errs.ErrTruncatedFrame, buf.Len(), HeaderSize)
	}

	appID, _ := buf.Read(AppIDType)
	tag, _ := buf.Read(TagType)
	ts, _ := buf.Read(TimestampType)
	count, _ := buf.Read(CountType)

	h.AppID = appID.(uint16)
	h.RawType = tag.(uint8)
	h.Type = format.FrameType(h.RawType)
	if !h.Type.Valid() {
		h.Type = format.FrameInvalid
	}
	h.Timestamp = fromUnixMicro(ts.(int64))
	h.Count = count.(uint16)

	return nil
}

func readIDs(buf *buffer.Buffer, count int, channels ChannelTypes) ([]uint16, []primitive.Type, error) {
	if count > 0 && channels == nil {
		return nil, nil, fmt.Errorf("%w: no channel catalog to decode with", errs.ErrUnknownChannel)
	}
	if buf.Remaining() < count*ChannelIDType.Width() {
		return nil, nil, fmt.Errorf("%w: %d channel ids", errs.ErrTruncatedFrame, count)
	}

	ids := make([]uint16, count)
	types := make([]primitive.Type, count)
	for i := range ids {
		v, _ := buf.Read(ChannelIDType)
		ids[i] = v.(uint16)

		t, ok := channels.ChannelType(ids[i])
		if !ok {
			return nil, nil, fmt.Errorf("%w: %d", errs.ErrUnknownChannel, ids[i])
		}
		types[i] = t
	}

	return ids, types, nil
}

func decodeData(buf *buffer.Buffer, count int, channels ChannelTypes) ([]DataElement, error) {
	ids, types, err := readIDs(buf, count, channels)
	if err != nil {
		return nil, err
	}

	out := make([]DataElement, count)
	for i, id := range ids {
		v, err := buf.Read(types[i])
		if err != nil {
			return nil, fmt.Errorf("%w: value of channel %d", errs.ErrTruncatedFrame, id)
		}
		out[i] = DataElement{ChannelID: id, Value: v}
	}

	return out, nil
}

func decodeEvents(buf *buffer.Buffer, count int, channels ChannelTypes) ([]EventElement, error) {
	ids, types, err := readIDs(buf, count, channels)
	if err != nil {
		return nil, err
	}

	out := make([]EventElement, count)
	for i, id := range ids {
		if buf.Remaining() < EventSpace(types[i])-ChannelIDType.Width() {
			return nil, fmt.Errorf("%w: event of channel %d", errs.ErrTruncatedFrame, id)
		}
		prev, _ := buf.Read(types[i])
		prevTS, _ := buf.Read(TimestampType)
		curr, _ := buf.Read(types[i])
		currTS, _ := buf.Read(TimestampType)

		out[i] = EventElement{
			ChannelID: id,
			Previous:  value.Sample{Value: prev, Time: fromUnixMicro(prevTS.(int64))},
			Current:   value.Sample{Value: curr, Time: fromUnixMicro(currTS.(int64))},
		}
	}

	return out, nil
}

func decodeMessage(buf *buffer.Buffer, size int) (*Fragment, error) {
	if buf.Remaining() < MessageHeaderSize+size {
		return nil, fmt.Errorf("%w: message fragment of %d bytes", errs.ErrTruncatedFrame, size)
	}

	var m Fragment
	msgType, _ := buf.Read(MessageTypeType)
	number, _ := buf.Read(MessageNumberType)
	checksum, _ := buf.Read(MessageCRCType)
	index, _ := buf.Read(FragmentIndexType)
	total, _ := buf.Read(FragmentTotalType)

	m.Type = msgType.(uint8)
	m.Number = number.(uint16)
	m.Checksum = checksum.(uint32)
	m.Index = index.(uint16)
	m.Total = total.(uint16)
	if m.Total == 0 || m.Index >= m.Total {
		return nil, fmt.Errorf("%w: index %d of %d", errs.ErrInvalidFragment, m.Index, m.Total)
	}

	m.Bytes, _ = buf.ReadBytes(size)

	return &m, nil
}
