package frame

import (
	"fmt"

	"github.com/arloliu/telwire/buffer"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/value"
)

// Event is one change of a channel's value.
type Event struct {
	ChannelID uint16
	Type      primitive.Type
	Previous  value.Sample
	Current   value.Sample
}

// DataSpace returns the bytes a data element of type t occupies.
func DataSpace(t primitive.Type) int {
	return ChannelIDType.Width() + t.Width()
}

// EventSpace returns the bytes an event element of type t occupies.
func EventSpace(t primitive.Type) int {
	return ChannelIDType.Width() + 2*(t.Width()+TimestampType.Width())
}

// channelBody holds the value block of data and event frames. Channel ids go
// straight into the frame buffer; values are appended after them at finalize.
type channelBody struct {
	values *buffer.Buffer
}

func (b *channelBody) finalize(f *Frame) error {
	f.buf.Append(b.values.Bytes())
	return nil
}

// AddData appends a (channel id, value) element to a data frame.
//
// It returns errs.ErrFrameFull when the element does not fit; the caller
// should finalize this frame and retry on a new one.
func (f *Frame) AddData(id uint16, v *value.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.kind != format.FrameData {
		return fmt.Errorf("%w: AddData on %s frame", errs.ErrFrameKindMismatch, f.kind)
	}
	if err := f.reserve(DataSpace(v.Type())); err != nil {
		return err
	}

	body := f.body.(*channelBody)
	f.buf.Write(ChannelIDType, id)
	v.Write(body.values)
	f.count++
	f.used += DataSpace(v.Type())

	return nil
}

// AddEvent appends a (channel id, previous, current) element to an event frame.
//
// It returns errs.ErrFrameFull when the element does not fit and
// errs.ErrInvalidValue when a sample does not fit ev.Type.
func (f *Frame) AddEvent(ev Event) error {
	prev, ok1 := ev.Type.Coerce(ev.Previous.Value)
	curr, ok2 := ev.Type.Coerce(ev.Current.Value)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: event for channel %d is not %s", errs.ErrInvalidValue, ev.ChannelID, ev.Type)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.kind != format.FrameEvent {
		return fmt.Errorf("%w: AddEvent on %s frame", errs.ErrFrameKindMismatch, f.kind)
	}
	space := EventSpace(ev.Type)
	if err := f.reserve(space); err != nil {
		return err
	}

	values := f.body.(*channelBody).values
	f.buf.Write(ChannelIDType, ev.ChannelID)
	values.Write(ev.Type, prev)
	values.Write(TimestampType, unixMicro(ev.Previous.Time))
	values.Write(ev.Type, curr)
	values.Write(TimestampType, unixMicro(ev.Current.Time))
	f.count++
	f.used += space

	return nil
}
