package cache

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/compress"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/internal/options"
	"github.com/arloliu/telwire/internal/store"
)

// Option configures a Cache.
type Option = options.Option[*Cache]

// WithDir persists fragments and metadata under dir. Without it the cache is memory-only.
func WithDir(dir string) Option {
	return options.New(func(c *Cache) error {
		if dir == "" {
			return nil
		}
		st, err := store.Open(dir)
		if err != nil {
			return fmt.Errorf("%w: cache dir: %w", errs.ErrInvalidConfig, err)
		}
		c.store = st

		return nil
	})
}

// WithCompression decompresses reassembled payloads with the given codec.
// It must match the sender's compression.
func WithCompression(ct format.CompressionType) Option {
	return options.New(func(c *Cache) error {
		codec, err := compress.CreateCodec(ct, "message")
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
		}
		c.codec = codec

		return nil
	})
}

func WithLogger(logger zerolog.Logger) Option {
	return options.NoError(func(c *Cache) {
		c.logger = logger
	})
}
