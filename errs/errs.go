// Package errs defines the sentinel errors returned across telwire.
//
// Errors are wrapped with context using fmt.Errorf and %w; test them with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"io"
)

// Buffer and value errors.
var (
	ErrBufferUnderflow = fmt.Errorf("insufficient bytes remaining in buffer: %w", io.ErrUnexpectedEOF)
	ErrImmutableBuffer = errors.New("buffer is immutable")
	ErrInvalidPosition = errors.New("buffer position out of range")
	ErrInvalidValue    = errors.New("value outside primitive type or range")
)

// Frame construction errors.
var (
	ErrFrameFinalized          = errors.New("frame already finalized")
	ErrFrameNotFinalized       = errors.New("frame not finalized")
	ErrFrameNotInitialized     = errors.New("message frame finalized before initialize")
	ErrFrameAlreadyInitialized = errors.New("message frame already initialized")
	ErrFrameKindMismatch       = errors.New("operation not supported by frame type")
	ErrFrameFull               = errors.New("frame has no room for element")
	ErrElementTooLarge         = errors.New("element cannot fit in an empty frame")
	ErrMessageTooLarge         = errors.New("message needs more fragments than the id type can count")
	ErrInvalidMTU              = errors.New("mtu too small for frame header")
)

// Frame decode errors. A decoded frame carrying one of these is returned with Valid=false.
var (
	ErrAppIDMismatch     = errors.New("frame app id does not match")
	ErrUnknownFrameType  = errors.New("unrecognized frame type")
	ErrChecksumMismatch  = errors.New("crc mismatch")
	ErrUnknownChannel    = errors.New("unknown channel id")
	ErrTruncatedFrame    = errors.New("frame truncated")
	ErrInvalidFragment   = errors.New("invalid message fragment")
	ErrMessageUnknown    = errors.New("message unknown")
	ErrMessageIncomplete = errors.New("message incomplete")
)

// Registry and configuration errors.
var (
	ErrDuplicateName      = errors.New("name already registered")
	ErrEnumExportConflict = errors.New("enum export id conflict")
	ErrIDSpaceExhausted   = errors.New("registry id exceeds wire id range")
	ErrInvalidEnum        = errors.New("invalid enum definition")
	ErrInvalidConfig      = errors.New("invalid configuration")
)
