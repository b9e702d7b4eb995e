package framer

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/compress"
	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/internal/options"
)

// DefaultMTU fits a frame in one Ethernet datagram with room for IP/UDP headers.
const DefaultMTU = 1400

// Option configures a Framer.
type Option = options.Option[*Framer]

// WithMTU sets the frame size limit.
func WithMTU(mtu int) Option {
	return options.New(func(f *Framer) error {
		if mtu <= 0 {
			return fmt.Errorf("%w: mtu %d", errs.ErrInvalidMTU, mtu)
		}
		f.cfg.MTU = mtu

		return nil
	})
}

// WithEngine sets the byte order. Big-endian is the default.
func WithEngine(engine endian.EndianEngine) Option {
	return options.NoError(func(f *Framer) {
		if engine != nil {
			f.cfg.Engine = engine
		}
	})
}

// WithCRC enables or disables the trailing CRC-32. It is enabled by default.
func WithCRC(enabled bool) Option {
	return options.NoError(func(f *Framer) {
		f.cfg.CRC = enabled
	})
}

// WithPadding pads every data and event frame to the MTU.
func WithPadding(enabled bool) Option {
	return options.NoError(func(f *Framer) {
		f.pad = enabled
	})
}

// WithAppIDBasis derives the app id from basis instead of drawing it at random.
func WithAppIDBasis(basis float64) Option {
	return options.NoError(func(f *Framer) {
		f.basis = &basis
	})
}

// WithCompression compresses message payloads with the given codec.
func WithCompression(ct format.CompressionType) Option {
	return options.New(func(f *Framer) error {
		codec, err := compress.CreateCodec(ct, "message")
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
		}
		f.compression = ct
		f.codec = codec

		return nil
	})
}

func WithLogger(logger zerolog.Logger) Option {
	return options.NoError(func(f *Framer) {
		f.logger = logger
	})
}
