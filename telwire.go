// Package telwire is an embeddable telemetry transport core.
//
// An Environment owns everything one sender/receiver needs: the type, enum
// and channel registries, the queue of channel change events, the Framer that
// packs values and messages into MTU-bounded frames, the stream Processor that
// splits received bytes back into frames, and the Cache that reassembles
// fragmented messages.
//
// # Sending
//
//	env, _ := telwire.New(ctx, config.Default())
//	rpm, _ := env.AddChannel("engine.rpm", "uint16", 100*time.Millisecond)
//	_ = env.Emit("engine.rpm", 1200)
//
//	sink := framer.SinkFunc(func(f *frame.Frame) error {
//	    b, _ := f.Bytes()
//	    _, err := conn.Write(b)
//	    return err
//	})
//	env.Dispatch(time.Now(), sink)       // periodic values
//	env.DispatchEvents(time.Now(), sink) // changes since the last call
//	env.SendMessage(1, blob, time.Now(), sink)
//
// # Receiving
//
// Datagram transports hand each datagram to Decode. Stream transports hand
// raw reads to Receive, which also feeds message fragments into the cache:
//
//	parsed, err := env.Receive(buf[:n])
//	for _, sum := range env.Messages().Complete(1) { ... }
//
// Transports, retransmission and encryption are left to the caller.
package telwire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/cache"
	"github.com/arloliu/telwire/channel"
	"github.com/arloliu/telwire/config"
	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/framer"
	"github.com/arloliu/telwire/internal/hash"
	"github.com/arloliu/telwire/internal/logging"
	"github.com/arloliu/telwire/internal/options"
	"github.com/arloliu/telwire/primitive"
	"github.com/arloliu/telwire/registry"
	"github.com/arloliu/telwire/stream"
)

// Environment is one telemetry sender/receiver. It is safe for concurrent use.
type Environment struct {
	// mu serializes emission against dispatch so a batch never packs a torn
	// set of channel values.
	mu sync.Mutex

	cfg       config.Config
	logger    zerolog.Logger
	hasLogger bool

	types    *registry.Registry[registry.TypeInfo]
	enums    *registry.EnumRegistry
	channels *registry.Registry[*channel.Channel]
	events   *channel.EventQueue

	framer    *framer.Framer
	processor *stream.Processor
	cache     *cache.Cache
	decode    frame.DecodeOptions
}

// Option configures an Environment.
type Option = options.Option[*Environment]

// WithTypes shares a type registry between environments. Enums added to
// either environment are exported into it and must agree on their ids.
func WithTypes(types *registry.Registry[registry.TypeInfo]) Option {
	return options.New(func(e *Environment) error {
		if types == nil {
			return fmt.Errorf("%w: nil type registry", errs.ErrInvalidConfig)
		}
		e.types = types

		return nil
	})
}

// WithLogger replaces the logger built from the [log] configuration.
func WithLogger(logger zerolog.Logger) Option {
	return options.NoError(func(e *Environment) {
		e.logger = logger
		e.hasLogger = true
	})
}

// New creates an Environment from cfg. With a cache directory configured,
// previously received messages are reloaded.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &Environment{
		cfg:      cfg,
		enums:    registry.NewEnumRegistry(),
		channels: registry.New[*channel.Channel]("channel"),
		events:   channel.NewEventQueue(),
	}
	if err := options.Apply(env, opts...); err != nil {
		return nil, err
	}
	if !env.hasLogger {
		env.logger = logging.New(cfg.Log)
	}
	if env.types == nil {
		env.types = registry.NewTypeRegistry()
	}

	framerOpts := []framer.Option{
		framer.WithMTU(cfg.MTU),
		framer.WithEngine(cfg.Engine()),
		framer.WithCRC(cfg.CRC),
		framer.WithPadding(cfg.Pad),
		framer.WithCompression(cfg.CompressionType()),
		framer.WithLogger(env.logger.With().Str("component", "framer").Logger()),
	}
	if cfg.AppIDBasis != nil {
		framerOpts = append(framerOpts, framer.WithAppIDBasis(*cfg.AppIDBasis))
	}

	var err error
	if env.framer, err = framer.New(framerOpts...); err != nil {
		return nil, err
	}
	env.processor, err = stream.NewProcessor(
		stream.WithEngine(cfg.Engine()),
		stream.WithLogger(env.logger.With().Str("component", "stream").Logger()),
	)
	if err != nil {
		return nil, err
	}
	env.cache, err = cache.Open(ctx,
		cache.WithDir(cfg.CacheDir),
		cache.WithCompression(cfg.CompressionType()),
		cache.WithLogger(env.logger.With().Str("component", "cache").Logger()),
	)
	if err != nil {
		return nil, err
	}

	expected := env.framer.AppID()
	if cfg.AppID != nil {
		expected = uint16(*cfg.AppID)
	}
	env.decode = frame.DecodeOptions{
		Engine:     cfg.Engine(),
		CRC:        cfg.CRC,
		AppID:      expected,
		CheckAppID: true,
		Channels:   env,
	}

	env.logger.Debug().
		Uint16("app_id", env.framer.AppID()).
		Int("mtu", cfg.MTU).
		Str("byte_order", endian.Name(cfg.Engine())).
		Bool("crc", cfg.CRC).
		Stringer("compression", cfg.CompressionType()).
		Msg("environment ready")

	return env, nil
}

// Load creates an Environment from the TOML configuration file at path.
func Load(ctx context.Context, path string, opts ...Option) (*Environment, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg, opts...)
}

func (e *Environment) Config() config.Config { return e.cfg }
func (e *Environment) AppID() uint16         { return e.framer.AppID() }
func (e *Environment) Framer() *framer.Framer {
	return e.framer
}

// Messages returns the message reassembly cache.
func (e *Environment) Messages() *cache.Cache { return e.cache }

// Types returns the type registry.
func (e *Environment) Types() *registry.Registry[registry.TypeInfo] { return e.types }

// AddEnum registers e locally and exports it into the type registry, making
// it usable as a channel type.
func (e *Environment) AddEnum(def *registry.Enum) (int, error) {
	id, ok := e.enums.Add(def)
	if !ok {
		return -1, fmt.Errorf("%w: enum %q", errs.ErrDuplicateName, def.Name())
	}
	if err := e.enums.Export(e.types); err != nil {
		return -1, err
	}
	typeID, _ := e.enums.TypeID(id)

	return typeID, nil
}

// AddChannel registers a channel of the named type (a primitive name such as
// "float32" or an added enum). A zero period emits the channel on every Dispatch.
//
// It fails with errs.ErrElementTooLarge when one change event of the channel
// cannot fit in an empty frame.
func (e *Environment) AddChannel(name, typeName string, period time.Duration) (*channel.Channel, error) {
	info, ok := e.types.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q for channel %q", errs.ErrInvalidValue, typeName, name)
	}

	fc := e.framer.Config()
	if need := fc.Overhead() + frame.EventSpace(info.Wire()); need > fc.MTU {
		return nil, fmt.Errorf("%w: channel %q needs %d bytes, mtu %d", errs.ErrElementTooLarge, name, need, fc.MTU)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.channels.ID(name); exists {
		return nil, fmt.Errorf("%w: channel %q", errs.ErrDuplicateName, name)
	}
	next := e.channels.Len()
	if uint64(next) > frame.ChannelIDType.Max() {
		return nil, fmt.Errorf("%w: channel %q", errs.ErrIDSpaceExhausted, name)
	}

	var ch *channel.Channel
	if info.Enum != nil {
		ch = channel.NewEnum(uint16(next), name, info.Enum, period)
	} else {
		ch = channel.New(uint16(next), name, info.Primitive, period)
	}
	if id, ok := e.channels.Add(name, ch); !ok || id != next {
		return nil, fmt.Errorf("%w: channel %q", errs.ErrDuplicateName, name)
	}
	ch.Track(e.events)

	return ch, nil
}

// Channel returns the channel registered as name.
func (e *Environment) Channel(name string) (*channel.Channel, bool) {
	return e.channels.Lookup(name)
}

// ChannelType implements frame.ChannelTypes.
func (e *Environment) ChannelType(id uint16) (primitive.Type, bool) {
	ch, ok := e.channels.Item(int(id))
	if !ok {
		return primitive.Type{}, false
	}

	return ch.Type(), true
}

// Emit sets the value of a channel, stamped with the current time.
func (e *Environment) Emit(name string, v any) error {
	return e.EmitAt(name, v, time.Now())
}

// EmitAt sets the value of a channel stamped with ts. A changed value is
// queued as an event for the next DispatchEvents.
func (e *Environment) EmitAt(name string, v any, ts time.Time) error {
	ch, ok := e.channels.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", errs.ErrUnknownChannel, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ch.SetAt(v, ts) {
		return fmt.Errorf("%w: %v for %s channel %q", errs.ErrInvalidValue, v, ch.Type(), name)
	}

	return nil
}

// Dispatch packs every channel due at now into data frames, in registration order.
func (e *Environment) Dispatch(now time.Time, sink framer.Sink) (int, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.framer.BuildDataFrames(now, e.channels.Items(), sink)
}

// DispatchEvents packs all queued change events into event frames.
func (e *Environment) DispatchEvents(now time.Time, sink framer.Sink) (int, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.framer.BuildEventFrames(now, e.events, sink)
}

// SendMessage fragments payload into message frames and sends them in order.
// It returns the total encoded size.
func (e *Environment) SendMessage(msgType uint8, payload []byte, ts time.Time, sink framer.Sink) (int, error) {
	frames, size, err := e.framer.SerializeMessage(msgType, payload, ts)
	if err != nil {
		return 0, err
	}
	for _, f := range frames {
		if err := sink.Send(f); err != nil {
			return 0, err
		}
	}

	return size, nil
}

// Decode parses one frame received from a datagram transport.
func (e *Environment) Decode(data []byte) frame.Parsed {
	return frame.Decode(data, e.decode)
}

// Receive consumes bytes from a length-prefixed stream and returns the
// frames it completed, valid or not. Valid message fragments are ingested
// into the cache; the returned error joins any ingest failures.
func (e *Environment) Receive(data []byte) ([]frame.Parsed, error) {
	raw := e.processor.Process(data, e.cfg.MTU)
	if len(raw) == 0 {
		return nil, nil
	}

	parsed := make([]frame.Parsed, 0, len(raw))
	var errList []error
	for _, b := range raw {
		p := e.Decode(b)
		parsed = append(parsed, p)
		if !p.Valid {
			e.logger.Debug().Err(p.Err).Uint16("app_id", p.Header.AppID).Msg("rejected frame")
			continue
		}
		if p.Header.Type == format.FrameMessage {
			if _, err := e.cache.Ingest(p); err != nil {
				errList = append(errList, err)
			}
		}
	}

	return parsed, errors.Join(errList...)
}

// Fingerprint identifies the wire identities of the environment: type and
// channel ids, channel types, byte order and CRC use. Two environments with
// equal fingerprints decode each other's frames.
func (e *Environment) Fingerprint() uint64 {
	parts := []string{
		strconv.FormatUint(e.types.Digest(), 16),
		strconv.FormatUint(e.channels.Digest(), 16),
		endian.Name(e.cfg.Engine()),
		strconv.FormatBool(e.cfg.CRC),
	}
	for _, ch := range e.channels.Items() {
		parts = append(parts, ch.Type().Name())
	}

	return hash.Digest(parts...)
}
