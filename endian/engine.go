// Package endian provides the byte order used by the telwire wire format.
//
// Frames are big-endian unless an environment is configured otherwise. Both
// sides of a link must agree on the order; it is not carried on the wire.
//
//	engine := endian.GetBigEndianEngine()
//	buf := engine.AppendUint16(nil, 0x0102) // [0x01 0x02]
//
// All functions and returned engines are safe for concurrent use.
package endian

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary.
//
// binary.BigEndian and binary.LittleEndian both satisfy it.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

const (
	BigName    = "big"
	LittleName = "little"
)

// GetBigEndianEngine returns the big-endian engine, the wire default.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// Default returns the engine used when nothing is configured.
func Default() EndianEngine {
	return GetBigEndianEngine()
}

// Parse resolves a configured byte order name. An empty name selects the default.
func Parse(name string) (EndianEngine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BigName, "big-endian", "be":
		return GetBigEndianEngine(), nil
	case LittleName, "little-endian", "le":
		return GetLittleEndianEngine(), nil
	default:
		return nil, fmt.Errorf("unknown byte order %q", name)
	}
}

// Name returns the configuration name of an engine.
func Name(engine EndianEngine) string {
	if engine == GetLittleEndianEngine() {
		return LittleName
	}

	return BigName
}
