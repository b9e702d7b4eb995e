// Package channel provides the named, typed, rate-limited value sources that
// data frames are packed from, and the queue that collects their changes for
// event frames.
package channel

import (
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/registry"
	"github.com/arloliu/telwire/value"
)

// Channel is a named value identified on the wire by a compact id.
//
// A channel with a zero period is due on every poll; otherwise it is due once
// period has elapsed since it was last emitted.
type Channel struct {
	mu       sync.Mutex
	name     string
	id       uint16
	value    *value.Value
	period   time.Duration
	lastEmit time.Time
	enum     *registry.Enum
}

// New creates a channel of primitive type t.
func New(id uint16, name string, t primitive.Type, period time.Duration) *Channel {
	return &Channel{
		name:   name,
		id:     id,
		value:  value.New(t),
		period: period,
	}
}

// NewEnum creates a channel whose values are members of e. It starts at e's default.
func NewEnum(id uint16, name string, e *registry.Enum, period time.Duration) *Channel {
	v, _ := value.NewWith(primitive.Enum, e.Default())

	return &Channel{
		name:   name,
		id:     id,
		value:  v,
		period: period,
		enum:   e,
	}
}

func (c *Channel) Name() string          { return c.name }
func (c *Channel) ID() uint16            { return c.id }
func (c *Channel) Type() primitive.Type  { return c.value.Type() }
func (c *Channel) Period() time.Duration { return c.period }

// Enum returns the enumeration of an enum channel, or nil.
func (c *Channel) Enum() *registry.Enum { return c.enum }

// Value returns the underlying typed value.
func (c *Channel) Value() *value.Value { return c.value }

// Get returns the current value.
func (c *Channel) Get() any { return c.value.Get() }

// Set assigns x. Enum channels also accept member names.
func (c *Channel) Set(x any) bool {
	return c.SetAt(x, time.Now())
}

// SetAt assigns x stamped with ts. It reports false and keeps the old value
// when x is not valid for the channel.
func (c *Channel) SetAt(x any, ts time.Time) bool {
	if c.enum != nil {
		switch v := x.(type) {
		case string:
			n, ok := c.enum.Value(v)
			if !ok {
				return false
			}
			x = n
		default:
			n, ok := primitive.Enum.Coerce(x)
			if !ok {
				return false
			}
			if c.enum.String(n.(uint8)) == registry.Unknown {
				return false
			}
			x = n
		}
	}

	return c.value.SetAt(x, ts)
}

// Due reports whether the channel should be emitted at now.
func (c *Channel) Due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.period <= 0 || c.lastEmit.IsZero() || now.Sub(c.lastEmit) >= c.period
}

// MarkEmitted records now as the time of the last emission.
func (c *Channel) MarkEmitted(now time.Time) {
	c.mu.Lock()
	c.lastEmit = now
	c.mu.Unlock()
}

// Format renders v for display. Enum values are rendered by name.
func (c *Channel) Format(v any) string {
	if c.enum != nil {
		n, ok := primitive.Enum.Coerce(v)
		if !ok {
			return registry.Unknown
		}

		return c.enum.String(n.(uint8))
	}

	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int8, int16, int32, int64:
		n, _ := primitive.Int64.Coerce(x)
		return strconv.FormatInt(n.(int64), 10)
	case uint8, uint16, uint32, uint64:
		n, _ := primitive.Uint64.Coerce(x)
		return strconv.FormatUint(n.(uint64), 10)
	}

	return "<invalid>"
}

// Track routes every change of the channel's value into q as an event.
// A nil q stops tracking.
func (c *Channel) Track(q *EventQueue) {
	if q == nil {
		c.value.SetSink(nil)
		return
	}
	c.value.SetSink(q.sinkFor(c))
}

// event builds the event frame element of a change.
func (c *Channel) event(ch value.Change) frame.Event {
	return frame.Event{
		ChannelID: c.id,
		Type:      c.value.Type(),
		Previous:  ch.Previous,
		Current:   ch.Current,
	}
}
