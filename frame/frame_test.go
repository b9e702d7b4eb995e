package frame

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/value"
)

const testAppID = 0x1234

func testStamp(t testing.TB, kind format.FrameType, ts time.Time) Stamp {
	t.Helper()

	appID, ok := value.NewWith(AppIDType, testAppID)
	require.True(t, ok)
	tag, ok := value.NewWith(TagType, uint8(kind))
	require.True(t, ok)
	stamp, ok := value.NewWith(TimestampType, unixMicro(ts))
	require.True(t, ok)

	return Stamp{AppID: appID, Type: tag, Timestamp: stamp}
}

func newTestFrame(t testing.TB, cfg Config, kind format.FrameType) *Frame {
	t.Helper()

	f, err := New(cfg, testStamp(t, kind, time.UnixMicro(1_700_000_000_000_000)))
	require.NoError(t, err)

	return f
}

func uint16Types(id uint16) (primitive.Type, bool) {
	return primitive.Uint16, true
}

func decodeOpts(cfg Config) DecodeOptions {
	return DecodeOptions{
		Engine:     cfg.Engine,
		CRC:        cfg.CRC,
		AppID:      testAppID,
		CheckAppID: true,
		Channels:   ChannelTypesFunc(uint16Types),
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{MTU: 64, CRC: true}.Validate())

	err := Config{MTU: HeaderSize + CRCSize + MessageHeaderSize, CRC: true}.Validate()
	require.ErrorIs(t, err, errs.ErrInvalidMTU)

	require.NoError(t, Config{MTU: HeaderSize + MessageHeaderSize + 1}.Validate())
	require.Equal(t, 64-HeaderSize-CRCSize-MessageHeaderSize, Config{MTU: 64, CRC: true}.MessageCapacity())
}

func TestFrame_Header(t *testing.T) {
	cfg := Config{MTU: 64, Engine: endian.GetBigEndianEngine(), CRC: false}
	f := newTestFrame(t, cfg, format.FrameData)

	_, err := f.Bytes()
	require.ErrorIs(t, err, errs.ErrFrameNotFinalized)

	n, err := f.Finalize(true)
	require.NoError(t, err)
	require.Equal(t, HeaderSize, n)

	b, err := f.Bytes()
	require.NoError(t, err)
	require.Len(t, b, HeaderSize)
	require.Equal(t, []byte{0x12, 0x34, byte(format.FrameData)}, b[:3])
	require.Equal(t, []byte{0x00, 0x00}, b[HeaderSize-2:])
}

func TestFrame_DataCapacity(t *testing.T) {
	for _, crc := range []bool{false, true} {
		for _, typ := range []primitive.Type{primitive.Bool, primitive.Uint16, primitive.Float64} {
			cfg := Config{MTU: 100, CRC: crc}
			f := newTestFrame(t, cfg, format.FrameData)
			want := (cfg.MTU - cfg.Overhead()) / DataSpace(typ)

			added := 0
			for {
				require.LessOrEqual(t, f.Used(), cfg.MTU)
				err := f.AddData(uint16(added), value.New(typ))
				if errors.Is(err, errs.ErrFrameFull) {
					break
				}
				require.NoError(t, err)
				added++
			}
			require.Equal(t, want, added, "type %s crc %v", typ, crc)

			n, err := f.Finalize(true)
			require.NoError(t, err)
			require.LessOrEqual(t, n, cfg.MTU)
			require.Equal(t, n, f.Len())
		}
	}
}

func TestFrame_EventCapacity(t *testing.T) {
	cfg := Config{MTU: 200, CRC: true}
	f := newTestFrame(t, cfg, format.FrameEvent)
	want := (cfg.MTU - cfg.Overhead()) / EventSpace(primitive.Int32)

	ev := Event{Type: primitive.Int32, Previous: value.Sample{Value: 1}, Current: value.Sample{Value: 2}}
	added := 0
	for {
		ev.ChannelID = uint16(added)
		err := f.AddEvent(ev)
		if errors.Is(err, errs.ErrFrameFull) {
			break
		}
		require.NoError(t, err)
		added++
	}
	require.Equal(t, want, added)
}

func TestFrame_KindMismatch(t *testing.T) {
	cfg := Config{MTU: 64}

	data := newTestFrame(t, cfg, format.FrameData)
	require.ErrorIs(t, data.AddEvent(Event{Type: primitive.Bool, Previous: value.Sample{Value: false}, Current: value.Sample{Value: true}}), errs.ErrFrameKindMismatch)
	require.ErrorIs(t, data.Initialize(MessageFields{Total: 1}, nil), errs.ErrFrameKindMismatch)

	msg := newTestFrame(t, cfg, format.FrameMessage)
	require.ErrorIs(t, msg.AddData(1, value.New(primitive.Bool)), errs.ErrFrameKindMismatch)
}

func TestFrame_UnknownTypeIsInvalid(t *testing.T) {
	f, err := New(Config{MTU: 64}, testStamp(t, format.FrameType(42), time.Time{}))
	require.NoError(t, err)
	require.Equal(t, format.FrameInvalid, f.Kind())
	require.ErrorIs(t, f.AddData(0, value.New(primitive.Bool)), errs.ErrFrameKindMismatch)
}

func TestFrame_FinalizeIdempotent(t *testing.T) {
	cfg := Config{MTU: 64, CRC: true}
	f := newTestFrame(t, cfg, format.FrameData)
	require.NoError(t, f.AddData(3, value.New(primitive.Uint32)))

	n1, err := f.Finalize(true)
	require.NoError(t, err)
	b1, _ := f.Bytes()
	first := append([]byte(nil), b1...)

	n2, err := f.Finalize(false)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
	b2, _ := f.Bytes()
	require.Equal(t, first, b2)

	require.ErrorIs(t, f.AddData(4, value.New(primitive.Uint32)), errs.ErrFrameFinalized)
}

func TestFrame_Pad(t *testing.T) {
	cfg := Config{MTU: 64, CRC: true}
	f := newTestFrame(t, cfg, format.FrameData)
	require.NoError(t, f.AddData(1, value.New(primitive.Int16)))

	_, err := f.Pad(4)
	require.ErrorIs(t, err, errs.ErrFrameNotFinalized)

	n, err := f.Finalize(true)
	require.NoError(t, err)

	added, err := f.Pad(4)
	require.NoError(t, err)
	require.Equal(t, 4, added)
	require.Equal(t, n+4, f.Len())

	added, err = f.PadToMTU()
	require.NoError(t, err)
	require.Equal(t, cfg.MTU-n-4, added)
	require.Equal(t, cfg.MTU, f.Len())

	added, err = f.Pad(10)
	require.NoError(t, err)
	require.Zero(t, added)

	b, _ := f.Bytes()
	p := Decode(b, decodeOpts(cfg))
	require.True(t, p.Valid, p.Err)
	require.Equal(t, n, p.Size)
}

func TestDecode_DataRoundTrip(t *testing.T) {
	for _, engine := range []endian.EndianEngine{endian.GetBigEndianEngine(), endian.GetLittleEndianEngine()} {
		cfg := Config{MTU: 128, Engine: engine, CRC: true}
		f := newTestFrame(t, cfg, format.FrameData)

		for i := range 5 {
			v, ok := value.NewWith(primitive.Uint16, i*100)
			require.True(t, ok)
			require.NoError(t, f.AddData(uint16(10+i), v))
		}
		_, err := f.Finalize(true)
		require.NoError(t, err)

		b, _ := f.Bytes()
		p := Decode(b, decodeOpts(cfg))
		require.True(t, p.Valid, p.Err)
		require.Equal(t, format.FrameData, p.Header.Type)
		require.Equal(t, uint16(testAppID), p.Header.AppID)
		require.Equal(t, uint16(5), p.Header.Count)
		require.Equal(t, time.UnixMicro(1_700_000_000_000_000), p.Header.Timestamp)
		require.Len(t, p.Data, 5)
		for i, el := range p.Data {
			require.Equal(t, uint16(10+i), el.ChannelID)
			require.Equal(t, uint16(i*100), el.Value)
		}
	}
}

func TestDecode_DataLayout(t *testing.T) {
	cfg := Config{MTU: 64}
	f := newTestFrame(t, cfg, format.FrameData)
	a, _ := value.NewWith(primitive.Uint8, 0xAA)
	b, _ := value.NewWith(primitive.Uint8, 0xBB)
	require.NoError(t, f.AddData(1, a))
	require.NoError(t, f.AddData(2, b))
	_, err := f.Finalize(true)
	require.NoError(t, err)

	raw, _ := f.Bytes()
	// ids block, then values block
	require.Equal(t, []byte{0x00, 0x01, 0x00, 0x02, 0xAA, 0xBB}, raw[HeaderSize:])
}

func TestDecode_EventRoundTrip(t *testing.T) {
	cfg := Config{MTU: 128, CRC: true}
	f := newTestFrame(t, cfg, format.FrameEvent)

	t0 := time.UnixMicro(1_000_000)
	t1 := time.UnixMicro(2_000_000)
	require.NoError(t, f.AddEvent(Event{
		ChannelID: 7,
		Type:      primitive.Uint16,
		Previous:  value.Sample{Value: 1, Time: t0},
		Current:   value.Sample{Value: 2, Time: t1},
	}))
	require.ErrorIs(t, f.AddEvent(Event{
		ChannelID: 8,
		Type:      primitive.Uint16,
		Previous:  value.Sample{Value: -1},
		Current:   value.Sample{Value: 2},
	}), errs.ErrInvalidValue)
	_, err := f.Finalize(true)
	require.NoError(t, err)

	b, _ := f.Bytes()
	p := Decode(b, decodeOpts(cfg))
	require.True(t, p.Valid, p.Err)
	require.Equal(t, []EventElement{{
		ChannelID: 7,
		Previous:  value.Sample{Value: uint16(1), Time: t0},
		Current:   value.Sample{Value: uint16(2), Time: t1},
	}}, p.Events)
}

func TestDecode_CRC(t *testing.T) {
	cfg := Config{MTU: 64, CRC: true}
	build := func(writeCRC bool) []byte {
		f := newTestFrame(t, cfg, format.FrameData)
		v, _ := value.NewWith(primitive.Uint16, 0xBEEF)
		require.NoError(t, f.AddData(1, v))
		_, err := f.Finalize(writeCRC)
		require.NoError(t, err)
		b, _ := f.Bytes()

		return append([]byte(nil), b...)
	}

	good := build(true)
	require.True(t, Decode(good, decodeOpts(cfg)).Valid)

	t.Run("flipped byte", func(t *testing.T) {
		for i := range len(good) - CRCSize {
			bad := append([]byte(nil), good...)
			bad[i] ^= 0x01
			p := Decode(bad, decodeOpts(cfg))
			require.False(t, p.Valid, "byte %d", i)
		}
	})

	t.Run("random crc", func(t *testing.T) {
		p := Decode(build(false), decodeOpts(cfg))
		require.False(t, p.Valid)
		require.ErrorIs(t, p.Err, errs.ErrChecksumMismatch)
		require.Equal(t, uint16(testAppID), p.Header.AppID)
		require.Nil(t, p.Data)
	})
}

func TestDecode_Rejections(t *testing.T) {
	cfg := Config{MTU: 64, CRC: true}
	f := newTestFrame(t, cfg, format.FrameData)
	_, err := f.Finalize(true)
	require.NoError(t, err)
	good, _ := f.Bytes()

	t.Run("app id mismatch", func(t *testing.T) {
		opts := decodeOpts(cfg)
		opts.AppID = 1
		p := Decode(good, opts)
		require.False(t, p.Valid)
		require.ErrorIs(t, p.Err, errs.ErrAppIDMismatch)
		require.Equal(t, uint16(testAppID), p.Header.AppID)
		require.Equal(t, format.FrameData, p.Header.Type)

		opts.CheckAppID = false
		require.True(t, Decode(good, opts).Valid)
	})

	t.Run("unknown tag", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[2] = 0x7F
		p := Decode(bad, decodeOpts(cfg))
		require.False(t, p.Valid)
		require.ErrorIs(t, p.Err, errs.ErrUnknownFrameType)
		require.Equal(t, format.FrameInvalid, p.Header.Type)
		require.Equal(t, uint8(0x7F), p.Header.RawType)
		require.Equal(t, uint16(testAppID), p.Header.AppID)
	})

	t.Run("truncated", func(t *testing.T) {
		p := Decode(good[:HeaderSize-1], decodeOpts(cfg))
		require.ErrorIs(t, p.Err, errs.ErrTruncatedFrame)

		p = Decode(good[:HeaderSize+1], decodeOpts(cfg))
		require.ErrorIs(t, p.Err, errs.ErrTruncatedFrame)
	})

	t.Run("unknown channel", func(t *testing.T) {
		f := newTestFrame(t, cfg, format.FrameData)
		require.NoError(t, f.AddData(9, value.New(primitive.Uint16)))
		_, err := f.Finalize(true)
		require.NoError(t, err)
		b, _ := f.Bytes()

		opts := decodeOpts(cfg)
		opts.Channels = ChannelTypesFunc(func(uint16) (primitive.Type, bool) { return primitive.Type{}, false })
		p := Decode(b, opts)
		require.ErrorIs(t, p.Err, errs.ErrUnknownChannel)
	})
}

func TestMessage_Initialize(t *testing.T) {
	cfg := Config{MTU: 64, CRC: true}
	fields := MessageFields{Type: 3, Number: 9, Checksum: 0xCAFEBABE, Index: 1, Total: 2}

	t.Run("finalize before initialize", func(t *testing.T) {
		f := newTestFrame(t, cfg, format.FrameMessage)
		_, err := f.Finalize(true)
		require.ErrorIs(t, err, errs.ErrFrameNotInitialized)
	})

	t.Run("round trip", func(t *testing.T) {
		f := newTestFrame(t, cfg, format.FrameMessage)
		require.NoError(t, f.Initialize(fields, []byte("hello")))
		require.ErrorIs(t, f.Initialize(fields, []byte("again")), errs.ErrFrameAlreadyInitialized)

		n, err := f.Finalize(true)
		require.NoError(t, err)
		require.Equal(t, cfg.Overhead()+MessageHeaderSize+5, n)
		_, err = f.PadToMTU()
		require.NoError(t, err)

		b, _ := f.Bytes()
		p := Decode(b, decodeOpts(cfg))
		require.True(t, p.Valid, p.Err)
		require.NotNil(t, p.Message)
		require.Equal(t, fields, p.Message.MessageFields)
		require.Equal(t, []byte("hello"), p.Message.Bytes)
		require.Equal(t, uint16(5), p.Header.Count)
	})

	t.Run("bad fragment index", func(t *testing.T) {
		f := newTestFrame(t, cfg, format.FrameMessage)
		require.ErrorIs(t, f.Initialize(MessageFields{Index: 2, Total: 2}, nil), errs.ErrInvalidFragment)
		require.ErrorIs(t, f.Initialize(MessageFields{}, nil), errs.ErrInvalidFragment)
	})

	t.Run("fragment too large", func(t *testing.T) {
		f := newTestFrame(t, cfg, format.FrameMessage)
		require.ErrorIs(t, f.Initialize(fields, make([]byte, cfg.MessageCapacity()+1)), errs.ErrFrameFull)
		require.NoError(t, f.Initialize(fields, make([]byte, cfg.MessageCapacity())))
		n, err := f.Finalize(true)
		require.NoError(t, err)
		require.Equal(t, cfg.MTU, n)
	})
}
