package format

import (
	"fmt"
	"strings"
)

type (
	FrameType       uint8
	CompressionType uint8
)

const (
	FrameInvalid FrameType = 0x0 // FrameInvalid tags a frame whose type byte is not recognized.
	FrameData    FrameType = 0x1 // FrameData carries (channel id, value) pairs.
	FrameEvent   FrameType = 0x2 // FrameEvent carries (channel id, previous, current) change tuples.
	FrameMessage FrameType = 0x3 // FrameMessage carries one fragment of a byte message.

	CompressionNone CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.
)

// FrameTypes lists the frame types that are valid on the wire.
var FrameTypes = []FrameType{FrameData, FrameEvent, FrameMessage}

// Valid reports whether f is a recognized wire frame type.
func (f FrameType) Valid() bool {
	switch f {
	case FrameData, FrameEvent, FrameMessage:
		return true
	default:
		return false
	}
}

// IsChannel reports whether frames of this type carry channel elements.
func (f FrameType) IsChannel() bool {
	return f == FrameData || f == FrameEvent
}

func (f FrameType) String() string {
	switch f {
	case FrameData:
		return "Data"
	case FrameEvent:
		return "Event"
	case FrameMessage:
		return "Message"
	default:
		return "Invalid"
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}

// ParseCompression resolves a configured compression name. An empty name means none.
func ParseCompression(name string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "s2":
		return CompressionS2, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}
