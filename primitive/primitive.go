// Package primitive defines the fixed catalog of scalar kinds that telwire
// puts on the wire.
//
// Every Type has a fixed byte width, a numeric range (except bool) and a
// default value. Values are carried as the Go type matching the kind:
//
//	Bool    bool        Float32 float32
//	Int8    int8        Float64 float64
//	Uint8   uint8       Enum    uint8
//	Int16   int16       Count   uint16
//	Uint16  uint16      CRC     uint32
//	Int32   int32       ID      uint16
//	Uint32  uint32
//	Int64   int64
//	Uint64  uint64
//
// Coerce accepts any Go integer or float (and bool for Bool) and converts it
// to the canonical Go type when it is inside the type's range. It never clamps.
package primitive

import (
	"math"
	"strings"

	"github.com/arloliu/telwire/endian"
)

// Kind identifies a primitive type.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindEnum
	KindCount
	KindCRC
	KindID
)

// Type is an immutable primitive descriptor.
type Type struct {
	kind   Kind
	name   string
	width  int
	signed bool
	float  bool
	imin   int64
	imax   int64
	umax   uint64
}

var (
	Bool    = Type{kind: KindBool, name: "bool", width: 1}
	Int8    = Type{kind: KindInt8, name: "int8", width: 1, signed: true, imin: math.MinInt8, imax: math.MaxInt8}
	Uint8   = Type{kind: KindUint8, name: "uint8", width: 1, umax: math.MaxUint8}
	Int16   = Type{kind: KindInt16, name: "int16", width: 2, signed: true, imin: math.MinInt16, imax: math.MaxInt16}
	Uint16  = Type{kind: KindUint16, name: "uint16", width: 2, umax: math.MaxUint16}
	Int32   = Type{kind: KindInt32, name: "int32", width: 4, signed: true, imin: math.MinInt32, imax: math.MaxInt32}
	Uint32  = Type{kind: KindUint32, name: "uint32", width: 4, umax: math.MaxUint32}
	Int64   = Type{kind: KindInt64, name: "int64", width: 8, signed: true, imin: math.MinInt64, imax: math.MaxInt64}
	Uint64  = Type{kind: KindUint64, name: "uint64", width: 8, umax: math.MaxUint64}
	Float32 = Type{kind: KindFloat32, name: "float32", width: 4, signed: true, float: true}
	Float64 = Type{kind: KindFloat64, name: "float64", width: 8, signed: true, float: true}

	// Enum is the narrow kind used for enumerations and frame type tags.
	Enum = Type{kind: KindEnum, name: "enum", width: 1, umax: math.MaxUint8}
	// Count is the kind used for element counts and stream length prefixes.
	Count = Type{kind: KindCount, name: "count", width: 2, umax: math.MaxUint16}
	// CRC holds CRC-32 checksums.
	CRC = Type{kind: KindCRC, name: "crc", width: 4, umax: math.MaxUint32}
	// ID is the kind of channel ids, app ids, sequence numbers and fragment indexes.
	ID = Type{kind: KindID, name: "id", width: 2, umax: math.MaxUint16}
)

var catalog = []Type{Bool, Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64, Float32, Float64, Enum, Count, CRC, ID}

// Catalog returns every primitive type in kind order.
func Catalog() []Type {
	out := make([]Type, len(catalog))
	copy(out, catalog)

	return out
}

// Lookup finds a primitive type by name.
func Lookup(name string) (Type, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range catalog {
		if t.name == name {
			return t, true
		}
	}

	return Type{}, false
}

// ByKind returns the primitive type for k.
func ByKind(k Kind) (Type, bool) {
	if k < KindBool || k > KindID {
		return Type{}, false
	}

	return catalog[k-1], true
}

func (t Type) Kind() Kind     { return t.kind }
func (t Type) Name() string   { return t.name }
func (t Type) Width() int     { return t.width }
func (t Type) Signed() bool   { return t.signed }
func (t Type) IsFloat() bool  { return t.float }
func (t Type) IsZero() bool   { return t.kind == 0 }
func (t Type) String() string { return t.name }

// Range returns the numeric bounds of the type. ok is false for Bool.
// Bounds of 64-bit kinds are float approximations.
func (t Type) Range() (lo, hi float64, ok bool) {
	switch {
	case t.kind == KindBool || t.kind == 0:
		return 0, 0, false
	case t.kind == KindFloat32:
		return -math.MaxFloat32, math.MaxFloat32, true
	case t.kind == KindFloat64:
		return -math.MaxFloat64, math.MaxFloat64, true
	case t.signed:
		return float64(t.imin), float64(t.imax), true
	default:
		return 0, float64(t.umax), true
	}
}

// Max returns the upper bound as a uint64 for unsigned integer kinds, 0 otherwise.
func (t Type) Max() uint64 {
	return t.umax
}

// Default returns the zero value of the type's canonical Go type.
func (t Type) Default() any {
	v, _ := t.fromBits(0)
	return v
}

// Valid reports whether v can be assigned to the type without loss.
func (t Type) Valid(v any) bool {
	_, ok := t.Coerce(v)
	return ok
}

// Coerce converts v to the canonical Go type of t.
//
// It returns false when v has an unsupported Go type for the kind or lies
// outside the kind's range.
func (t Type) Coerce(v any) (any, bool) {
	switch t.kind {
	case 0:
		return nil, false
	case KindBool:
		b, ok := v.(bool)
		return b, ok
	case KindFloat32:
		f, ok := asFloat(v)
		if !ok {
			return nil, false
		}
		if !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return nil, false
		}

		return float32(f), true
	case KindFloat64:
		f, ok := asFloat(v)
		if !ok {
			return nil, false
		}

		return f, true
	}

	if t.signed {
		i, ok := asInt64(v)
		if !ok || i < t.imin || i > t.imax {
			return nil, false
		}

		return t.fromBits(uint64(i))
	}

	u, ok := asUint64(v)
	if !ok || u > t.umax {
		return nil, false
	}

	return t.fromBits(u)
}

// Sum returns cur+delta coerced to t. cur must already be canonical.
func (t Type) Sum(cur, delta any) (any, bool) {
	switch {
	case t.kind == KindBool || t.kind == 0:
		return nil, false
	case t.float:
		a, ok1 := asFloat(cur)
		d, ok2 := asFloat(delta)
		if !ok1 || !ok2 {
			return nil, false
		}

		return t.Coerce(a + d)
	case t.signed:
		a, ok1 := asInt64(cur)
		d, ok2 := asInt64(delta)
		if !ok1 || !ok2 {
			return nil, false
		}
		s := a + d
		if (d > 0 && s < a) || (d < 0 && s > a) {
			return nil, false
		}

		return t.Coerce(s)
	}

	a, ok := asUint64(cur)
	if !ok {
		return nil, false
	}
	if d, ok := asInt64(delta); ok {
		if d < 0 {
			neg := uint64(-(d + 1)) + 1
			if neg > a {
				return nil, false
			}

			return t.Coerce(a - neg)
		}
		s := a + uint64(d)
		if s < a {
			return nil, false
		}

		return t.Coerce(s)
	}
	d, ok := asUint64(delta)
	if !ok || a+d < a {
		return nil, false
	}

	return t.Coerce(a + d)
}

// Append encodes v after dst. v must be canonical for t (see Coerce).
func (t Type) Append(engine endian.EndianEngine, dst []byte, v any) []byte {
	bits := t.toBits(v)
	switch t.width {
	case 1:
		return append(dst, byte(bits))
	case 2:
		return engine.AppendUint16(dst, uint16(bits))
	case 4:
		return engine.AppendUint32(dst, uint32(bits))
	default:
		return engine.AppendUint64(dst, bits)
	}
}

// Put encodes v into dst[:t.Width()]. dst must be at least Width bytes long.
func (t Type) Put(engine endian.EndianEngine, dst []byte, v any) {
	bits := t.toBits(v)
	switch t.width {
	case 1:
		dst[0] = byte(bits)
	case 2:
		engine.PutUint16(dst, uint16(bits))
	case 4:
		engine.PutUint32(dst, uint32(bits))
	default:
		engine.PutUint64(dst, bits)
	}
}

// Get decodes a value of type t from src[:t.Width()].
func (t Type) Get(engine endian.EndianEngine, src []byte) any {
	var bits uint64
	switch t.width {
	case 1:
		bits = uint64(src[0])
	case 2:
		bits = uint64(engine.Uint16(src))
	case 4:
		bits = uint64(engine.Uint32(src))
	default:
		bits = engine.Uint64(src)
	}
	v, _ := t.fromBits(bits)

	return v
}

func (t Type) toBits(v any) uint64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}

		return 0
	case float32:
		return uint64(math.Float32bits(x))
	case float64:
		return math.Float64bits(x)
	case int8:
		return uint64(uint8(x))
	case int16:
		return uint64(uint16(x))
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	default:
		return 0
	}
}

func (t Type) fromBits(bits uint64) (any, bool) {
	switch t.kind {
	case KindBool:
		return bits != 0, true
	case KindInt8:
		return int8(uint8(bits)), true
	case KindUint8, KindEnum:
		return uint8(bits), true
	case KindInt16:
		return int16(uint16(bits)), true
	case KindUint16, KindCount, KindID:
		return uint16(bits), true
	case KindInt32:
		return int32(uint32(bits)), true
	case KindUint32, KindCRC:
		return uint32(bits), true
	case KindInt64:
		return int64(bits), true
	case KindUint64:
		return bits, true
	case KindFloat32:
		return math.Float32frombits(uint32(bits)), true
	case KindFloat64:
		return math.Float64frombits(bits), true
	default:
		return nil, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	if u, ok := asUint64(v); ok {
		return float64(u), true
	}

	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}

		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}

		return int64(x), true
	default:
		return 0, false
	}
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	}
	i, ok := asInt64(v)
	if !ok || i < 0 {
		return 0, false
	}

	return uint64(i), true
}
