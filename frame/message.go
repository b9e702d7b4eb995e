package frame

import (
	"fmt"

	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/primitive"
)

// Wire types of the message frame fields.
var (
	MessageTypeType   = primitive.Enum
	MessageNumberType = primitive.ID
	MessageCRCType    = primitive.CRC
	FragmentIndexType = primitive.ID
	FragmentTotalType = primitive.ID
)

// MessageFields are the fields leading every message frame payload.
type MessageFields struct {
	Type     uint8  // application-defined message type
	Number   uint16 // per-type sequence number
	Checksum uint32 // CRC-32 of the whole message
	Index    uint16 // index of this fragment
	Total    uint16 // number of fragments in the message
}

type messageBody struct {
	initialized bool
}

func (b *messageBody) finalize(*Frame) error {
	if !b.initialized {
		return errs.ErrFrameNotInitialized
	}

	return nil
}

// Initialize writes the message fields and the fragment bytes. It may be called once.
func (f *Frame) Initialize(fields MessageFields, fragment []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.kind != format.FrameMessage {
		return fmt.Errorf("%w: Initialize on %s frame", errs.ErrFrameKindMismatch, f.kind)
	}
	body := f.body.(*messageBody)
	if body.initialized {
		return errs.ErrFrameAlreadyInitialized
	}
	if f.finalized {
		return errs.ErrFrameFinalized
	}
	if fields.Total == 0 || fields.Index >= fields.Total {
		return fmt.Errorf("%w: index %d of %d", errs.ErrInvalidFragment, fields.Index, fields.Total)
	}
	if f.used+MessageHeaderSize+len(fragment) > f.cfg.MTU || len(fragment) > MaxElements {
		return fmt.Errorf("%w: %d byte fragment, %d bytes free", errs.ErrFrameFull, len(fragment), f.cfg.MTU-f.used-MessageHeaderSize)
	}

	f.buf.Write(MessageTypeType, fields.Type)
	f.buf.Write(MessageNumberType, fields.Number)
	f.buf.Write(MessageCRCType, fields.Checksum)
	f.buf.Write(FragmentIndexType, fields.Index)
	f.buf.Write(FragmentTotalType, fields.Total)
	f.buf.Append(fragment)

	f.count = len(fragment)
	f.used += MessageHeaderSize + len(fragment)
	body.initialized = true

	return nil
}
