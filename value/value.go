// Package value provides Value, a primitive-typed variable that validates
// every assignment and encodes itself into a buffer.Buffer.
//
// A Value may report changes to a ChangeSink. The sink is invoked
// synchronously, after the new value is stored and before Set returns.
// Writers are serialized until their sink call returns, so the sink sees
// changes in assignment order and each Previous equals the prior Current.
// A sink must not assign to the Value that notified it.
package value

import (
	"sync"
	"time"

	"github.com/arloliu/telwire/buffer"
	"github.com/arloliu/telwire/primitive"
)

// Sample is a value observed at a point in time.
type Sample struct {
	Value any
	Time  time.Time
}

// Change pairs the previous and current sample of a Value.
type Change struct {
	Previous Sample
	Current  Sample
}

// ChangeSink receives changes reported by a Value.
type ChangeSink interface {
	Changed(Change)
}

// ChanSink delivers changes on a Go channel. Sends block until received.
type ChanSink chan<- Change

// Changed implements ChangeSink.
func (c ChanSink) Changed(ch Change) {
	c <- ch
}

// Value is a primitive-typed variable. It is safe for concurrent use.
type Value struct {
	// wmu serializes assignments together with their sink call.
	wmu  sync.Mutex
	mu   sync.Mutex
	typ  primitive.Type
	v    any
	ts   time.Time
	sink ChangeSink
}

// New creates a Value of type t holding t's default.
func New(t primitive.Type) *Value {
	return &Value{typ: t, v: t.Default()}
}

// NewWith creates a Value holding initial. It reports false if initial is not valid for t.
func NewWith(t primitive.Type, initial any) (*Value, bool) {
	cv, ok := t.Coerce(initial)
	if !ok {
		return nil, false
	}

	return &Value{typ: t, v: cv}, true
}

// Type returns the primitive type.
func (v *Value) Type() primitive.Type {
	return v.typ
}

// Size returns the encoded size in bytes.
func (v *Value) Size() int {
	return v.typ.Width()
}

// SetSink attaches s as the change sink; nil detaches.
func (v *Value) SetSink(s ChangeSink) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.sink = s
}

// Get returns the current value in the type's canonical Go type.
func (v *Value) Get() any {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.v
}

// Timestamp returns the time of the last accepted Set.
func (v *Value) Timestamp() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.ts
}

// Sample returns the current value and its timestamp.
func (v *Value) Sample() Sample {
	v.mu.Lock()
	defer v.mu.Unlock()

	return Sample{Value: v.v, Time: v.ts}
}

// Set assigns x stamped with the current time.
func (v *Value) Set(x any) bool {
	return v.SetAt(x, time.Now())
}

// SetAt assigns x stamped with ts.
//
// It returns false, leaving the value unchanged, when x has the wrong Go type
// or lies outside the type's range.
func (v *Value) SetAt(x any, ts time.Time) bool {
	cv, ok := v.typ.Coerce(x)
	if !ok {
		return false
	}

	return v.update(func(any) (any, bool) { return cv, true }, ts)
}

// Add assigns Get()+delta stamped with the current time.
func (v *Value) Add(delta any) bool {
	return v.AddAt(delta, time.Now())
}

// AddAt assigns Get()+delta stamped with ts.
func (v *Value) AddAt(delta any, ts time.Time) bool {
	return v.update(func(cur any) (any, bool) { return v.typ.Sum(cur, delta) }, ts)
}

// Write encodes the value at the buffer's cursor and returns the bytes written.
func (v *Value) Write(buf *buffer.Buffer) int {
	return buf.Write(v.typ, v.Get())
}

// WriteAt encodes the value at pos without moving the buffer's cursor.
func (v *Value) WriteAt(buf *buffer.Buffer, pos int) int {
	return buf.WriteAt(v.typ, v.Get(), pos)
}

// Read decodes a value at the buffer's cursor and stores it.
// The timestamp and sink are left untouched.
func (v *Value) Read(buf *buffer.Buffer) (any, error) {
	x, err := buf.Read(v.typ)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.v = x
	v.mu.Unlock()

	return x, nil
}

// ReadAt decodes a value at pos without moving the buffer's cursor and stores it.
func (v *Value) ReadAt(buf *buffer.Buffer, pos int) (any, error) {
	x, err := buf.ReadAt(v.typ, pos)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.v = x
	v.mu.Unlock()

	return x, nil
}

// update assigns next(current) stamped with ts and notifies the sink.
// The computation and the assignment share one critical section.
func (v *Value) update(next func(cur any) (any, bool), ts time.Time) bool {
	v.wmu.Lock()
	defer v.wmu.Unlock()

	v.mu.Lock()
	cv, ok := next(v.v)
	if !ok {
		v.mu.Unlock()
		return false
	}
	prev := Sample{Value: v.v, Time: v.ts}
	v.v = cv
	v.ts = ts
	sink := v.sink
	v.mu.Unlock()

	if sink != nil && prev.Value != cv {
		sink.Changed(Change{Previous: prev, Current: Sample{Value: cv, Time: ts}})
	}

	return true
}
