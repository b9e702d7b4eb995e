package telwire

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/telwire/config"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/framer"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/registry"
	"github.com/arloliu/telwire/stream"
)

type wire struct {
	frames [][]byte
}

func (w *wire) Send(f *frame.Frame) error {
	b, err := f.Bytes()
	if err != nil {
		return err
	}
	w.frames = append(w.frames, append([]byte(nil), b...))

	return nil
}

// streamed length-prefixes every captured frame.
func (w *wire) streamed(t *testing.T, env *Environment) []byte {
	t.Helper()

	var out []byte
	for _, b := range w.frames {
		var err error
		out, err = stream.AppendFramed(out, env.Config().Engine(), b)
		require.NoError(t, err)
	}

	return out
}

func testConfig(mtu int) config.Config {
	cfg := config.Default()
	cfg.MTU = mtu
	basis := 0.42
	cfg.AppIDBasis = &basis

	return cfg
}

func newEnv(t *testing.T, cfg config.Config, opts ...Option) *Environment {
	t.Helper()

	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	env, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)

	return env
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MTU = 10
	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = New(context.Background(), config.Default(), WithTypes(nil))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestEnvironment_AddChannel(t *testing.T) {
	env := newEnv(t, testConfig(256))

	a, err := env.AddChannel("a", "float32", time.Second)
	require.NoError(t, err)
	b, err := env.AddChannel("b", "bool", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0), a.ID())
	require.Equal(t, uint16(1), b.ID())

	_, err = env.AddChannel("a", "int8", 0)
	require.ErrorIs(t, err, errs.ErrDuplicateName)

	_, err = env.AddChannel("c", "complex128", 0)
	require.ErrorIs(t, err, errs.ErrInvalidValue)

	got, ok := env.Channel("b")
	require.True(t, ok)
	require.Same(t, b, got)

	typ, ok := env.ChannelType(0)
	require.True(t, ok)
	require.Equal(t, primitive.Float32, typ)
	_, ok = env.ChannelType(9)
	require.False(t, ok)
}

func TestEnvironment_AddChannelTooLarge(t *testing.T) {
	// room for a bool event (20 bytes) but not a float64 event (34 bytes)
	env := newEnv(t, testConfig(frame.HeaderSize+frame.CRCSize+20))

	_, err := env.AddChannel("flag", "bool", 0)
	require.NoError(t, err)
	_, err = env.AddChannel("big", "float64", 0)
	require.ErrorIs(t, err, errs.ErrElementTooLarge)
}

func TestEnvironment_Emit(t *testing.T) {
	env := newEnv(t, testConfig(256))
	_, err := env.AddChannel("level", "uint8", 0)
	require.NoError(t, err)

	require.NoError(t, env.Emit("level", 200))
	require.ErrorIs(t, env.Emit("level", 300), errs.ErrInvalidValue)
	require.ErrorIs(t, env.Emit("missing", 1), errs.ErrUnknownChannel)

	ch, _ := env.Channel("level")
	require.Equal(t, uint8(200), ch.Get())
}

func TestEnvironment_DispatchRoundTrip(t *testing.T) {
	env := newEnv(t, testConfig(128))
	const n = 50
	for i := range n {
		_, err := env.AddChannel(fmt.Sprintf("ch%02d", i), "int32", 0)
		require.NoError(t, err)
	}
	for i, ch := range env.channels.Items() {
		require.True(t, ch.Set(int32(-i)))
	}

	w := &wire{}
	now := time.UnixMicro(7_000_000)
	frames, elements, err := env.Dispatch(now, w)
	require.NoError(t, err)
	require.Equal(t, n, elements)

	fc := env.Framer().Config()
	perFrame := (fc.MTU - fc.Overhead()) / frame.DataSpace(primitive.Int32)
	require.Equal(t, (n+perFrame-1)/perFrame, frames)

	var got []frame.DataElement
	for _, b := range w.frames {
		p := env.Decode(b)
		require.True(t, p.Valid, p.Err)
		require.Equal(t, env.AppID(), p.Header.AppID)
		require.Equal(t, now, p.Header.Timestamp)
		got = append(got, p.Data...)
	}
	require.Len(t, got, n)
	for i, el := range got {
		require.Equal(t, uint16(i), el.ChannelID)
		require.Equal(t, int32(-i), el.Value)
	}
}

func TestEnvironment_Events(t *testing.T) {
	env := newEnv(t, testConfig(256))
	mode, err := registry.NewEnumFromNames("mode", "idle", "run", "fault")
	require.NoError(t, err)
	typeID, err := env.AddEnum(mode)
	require.NoError(t, err)
	require.Equal(t, len(primitive.Catalog()), typeID)

	_, err = env.AddEnum(mode)
	require.ErrorIs(t, err, errs.ErrDuplicateName)

	ch, err := env.AddChannel("pump.mode", "mode", 0)
	require.NoError(t, err)
	require.Equal(t, primitive.Enum, ch.Type())

	t0 := time.UnixMicro(1_000)
	require.NoError(t, env.EmitAt("pump.mode", "run", t0))
	require.NoError(t, env.EmitAt("pump.mode", "run", t0))
	require.NoError(t, env.EmitAt("pump.mode", "fault", t0.Add(time.Second)))
	require.ErrorIs(t, env.Emit("pump.mode", "exploded"), errs.ErrInvalidValue)

	w := &wire{}
	frames, elements, err := env.DispatchEvents(time.UnixMicro(5_000_000), w)
	require.NoError(t, err)
	require.Equal(t, 1, frames)
	require.Equal(t, 2, elements)

	p := env.Decode(w.frames[0])
	require.True(t, p.Valid, p.Err)
	require.Equal(t, format.FrameEvent, p.Header.Type)
	require.Len(t, p.Events, 2)
	require.Equal(t, "idle", ch.Format(p.Events[0].Previous.Value))
	require.Equal(t, "run", ch.Format(p.Events[0].Current.Value))
	require.Equal(t, t0, p.Events[0].Current.Time)
	require.Equal(t, "fault", ch.Format(p.Events[1].Current.Value))
}

func TestEnvironment_SharedTypes(t *testing.T) {
	types := registry.NewTypeRegistry()
	a := newEnv(t, testConfig(256), WithTypes(types))
	b := newEnv(t, testConfig(256), WithTypes(types))

	mode, _ := registry.NewEnumFromNames("mode", "idle", "run")
	same, _ := registry.NewEnumFromNames("mode", "idle", "run")
	other, _ := registry.NewEnumFromNames("mode", "off", "on")

	idA, err := a.AddEnum(mode)
	require.NoError(t, err)
	idB, err := b.AddEnum(same)
	require.NoError(t, err)
	require.Equal(t, idA, idB)

	c := newEnv(t, testConfig(256), WithTypes(types))
	_, err = c.AddEnum(other)
	require.ErrorIs(t, err, errs.ErrEnumExportConflict)
}

func TestEnvironment_Rejections(t *testing.T) {
	sender := newEnv(t, testConfig(128))
	_, err := sender.AddChannel("x", "uint16", 0)
	require.NoError(t, err)
	require.NoError(t, sender.Emit("x", 5))

	w := &wire{}
	_, _, err = sender.Dispatch(time.Now(), w)
	require.NoError(t, err)

	other := testConfig(128)
	basis := 0.9
	other.AppIDBasis = &basis
	receiver := newEnv(t, other)
	_, err = receiver.AddChannel("x", "uint16", 0)
	require.NoError(t, err)

	p := receiver.Decode(w.frames[0])
	require.False(t, p.Valid)
	require.ErrorIs(t, p.Err, errs.ErrAppIDMismatch)

	appID := int(sender.AppID())
	other.AppID = &appID
	accepting := newEnv(t, other)
	_, err = accepting.AddChannel("x", "uint16", 0)
	require.NoError(t, err)
	p = accepting.Decode(w.frames[0])
	require.True(t, p.Valid, p.Err)
	require.Equal(t, uint16(5), p.Data[0].Value)
}

func TestEnvironment_MessageEndToEnd(t *testing.T) {
	cfg := testConfig(96)
	cfg.CacheDir = t.TempDir()
	sender := newEnv(t, cfg)
	receiver := newEnv(t, cfg)

	capacity := sender.Framer().Config().MessageCapacity()
	payload := make([]byte, 3*capacity+1)
	for i := range payload {
		payload[i] = byte(i * 13)
	}

	w := &wire{}
	size, err := sender.SendMessage(4, payload, time.UnixMicro(99), w)
	require.NoError(t, err)
	require.Len(t, w.frames, 4)

	total := 0
	for _, b := range w.frames {
		p := receiver.Decode(b)
		require.True(t, p.Valid, p.Err)
		require.Equal(t, uint16(4), p.Message.Total)
		require.Equal(t, crc32.ChecksumIEEE(payload), p.Message.Checksum)
		total += len(b)
	}
	require.Equal(t, total, size)

	// deliver through the stream in awkward chunks
	data := w.streamed(t, sender)
	var parsed []frame.Parsed
	for len(data) > 0 {
		n := min(7, len(data))
		got, err := receiver.Receive(data[:n])
		require.NoError(t, err)
		parsed = append(parsed, got...)
		data = data[n:]
	}
	require.Len(t, parsed, 4)

	checksum := crc32.ChecksumIEEE(payload)
	require.Equal(t, []uint32{checksum}, receiver.Messages().Complete(4))
	msg, err := receiver.Messages().Content(4, checksum)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, msg.Payload))

	// a second environment over the same directory sees the message
	reloaded := newEnv(t, cfg)
	msg, err = reloaded.Messages().Content(4, checksum)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, msg.Payload))
}

func TestEnvironment_ReceiveCorruptStream(t *testing.T) {
	cfg := testConfig(96)
	env := newEnv(t, cfg)

	w := &wire{}
	_, err := env.SendMessage(1, []byte("ping"), time.Now(), w)
	require.NoError(t, err)

	parsed, err := env.Receive([]byte{0xFF, 0xFF, 1, 2, 3})
	require.NoError(t, err)
	require.Empty(t, parsed)

	parsed, err = env.Receive(w.streamed(t, env))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.True(t, parsed[0].Valid)
	require.Len(t, env.Messages().Complete(1), 1)

	corrupt := append([]byte(nil), w.frames[0]...)
	corrupt[len(corrupt)-1] ^= 0xFF
	framed, err := stream.AppendFramed(nil, cfg.Engine(), corrupt)
	require.NoError(t, err)
	parsed, err = env.Receive(framed)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.False(t, parsed[0].Valid)
	require.ErrorIs(t, parsed[0].Err, errs.ErrChecksumMismatch)
}

func TestEnvironment_Fingerprint(t *testing.T) {
	build := func(names ...string) *Environment {
		env := newEnv(t, testConfig(256))
		for _, n := range names {
			_, err := env.AddChannel(n, "uint16", 0)
			require.NoError(t, err)
		}

		return env
	}

	require.Equal(t, build("a", "b").Fingerprint(), build("a", "b").Fingerprint())
	require.NotEqual(t, build("a", "b").Fingerprint(), build("b", "a").Fingerprint())
	require.NotEqual(t, build("a").Fingerprint(), build("a", "b").Fingerprint())

	little := testConfig(256)
	little.ByteOrder = "little"
	require.NotEqual(t, build().Fingerprint(), newEnv(t, little).Fingerprint())
}

func TestEnvironment_SinkFunc(t *testing.T) {
	env := newEnv(t, testConfig(256))
	_, err := env.AddChannel("x", "bool", 0)
	require.NoError(t, err)

	count := 0
	_, _, err = env.Dispatch(time.Now(), framer.SinkFunc(func(f *frame.Frame) error {
		count++
		require.True(t, f.Finalized())

		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telwire.toml")
	doc := `
mtu = 512
byte_order = "little"
crc = false
app_id = 77

[log]
level = "warn"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	env, err := Load(context.Background(), path, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.Equal(t, 512, env.Framer().Config().MTU)
	require.False(t, env.Config().CRC)

	_, err = Load(context.Background(), filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}
