// Package config loads the TOML configuration of a telemetry environment.
//
//	mtu = 1400
//	byte_order = "big"
//	crc = true
//	pad = false
//	app_id_basis = 0.25
//	app_id = 16384
//	compression = "zstd"
//	cache_dir = "/var/lib/telwire/messages"
//
//	[log]
//	level = "info"
//	console = true
//
// Keys left out keep the values of Default.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/arloliu/telwire/endian"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/primitive"
)

// DefaultMTU is the frame size limit used when mtu is not configured.
const DefaultMTU = 1400

// Config is the configuration of one environment.
type Config struct {
	MTU       int    `toml:"mtu"`
	ByteOrder string `toml:"byte_order"`
	CRC       bool   `toml:"crc"`
	// Pad pads data and event frames to the MTU.
	Pad bool `toml:"pad"`
	// AppIDBasis derives a reproducible app id; unset means random.
	AppIDBasis *float64 `toml:"app_id_basis"`
	// AppID is the sender app id accepted on receive; unset accepts the local one.
	AppID       *int   `toml:"app_id"`
	Compression string `toml:"compression"`
	// CacheDir persists received messages; empty keeps them in memory.
	CacheDir string    `toml:"cache_dir"`
	Log      LogConfig `toml:"log"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level     string `toml:"level"`
	Console   bool   `toml:"console"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		MTU:         DefaultMTU,
		ByteOrder:   endian.BigName,
		CRC:         true,
		Compression: "none",
		Log: LogConfig{
			Level:     "info",
			Timestamp: true,
		},
	}
}

// Load reads and validates the TOML file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	return finish(cfg, meta)
}

// Parse decodes and validates a TOML document.
func Parse(data string) (Config, error) {
	cfg := Default()
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}

	return finish(cfg, meta)
}

func finish(cfg Config, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return Config{}, fmt.Errorf("%w: unknown keys %s", errs.ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.MTU > int(primitive.Count.Max()) {
		return fmt.Errorf("%w: mtu %d exceeds the stream length prefix", errs.ErrInvalidConfig, c.MTU)
	}
	if err := c.FrameConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}
	if _, err := endian.Parse(c.ByteOrder); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}
	if _, err := format.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}
	if c.AppID != nil && (*c.AppID < 0 || uint64(*c.AppID) > frame.AppIDType.Max()) {
		return fmt.Errorf("%w: app_id %d out of range", errs.ErrInvalidConfig, *c.AppID)
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
			return fmt.Errorf("%w: log level: %w", errs.ErrInvalidConfig, err)
		}
	}

	return nil
}

// Engine returns the configured byte order. Invalid names yield big-endian.
func (c Config) Engine() endian.EndianEngine {
	engine, err := endian.Parse(c.ByteOrder)
	if err != nil {
		return endian.Default()
	}

	return engine
}

// CompressionType returns the configured message compression. Invalid names yield none.
func (c Config) CompressionType() format.CompressionType {
	ct, err := format.ParseCompression(c.Compression)
	if err != nil {
		return format.CompressionNone
	}

	return ct
}

// FrameConfig returns the frame settings.
func (c Config) FrameConfig() frame.Config {
	return frame.Config{MTU: c.MTU, Engine: c.Engine(), CRC: c.CRC}
}
