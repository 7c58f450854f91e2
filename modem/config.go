package modem

import (
	"log/slog"
	"time"
)

// Config holds the settings a Modem is built from. Use NewConfigBuilder to
// obtain a validated Config with defaults applied.
type Config struct {
	dialer      Dialer
	clock       Clock
	logger      *slog.Logger
	bootDelay   time.Duration
	initTimeout time.Duration
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.initTimeout == 0 {
		c.initTimeout = 30 * time.Second
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns an empty builder.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithClock replaces the tick source. Defaults to SystemClock.
func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.clock = c
	return b
}

// WithLogger sets the logger for command traces. Defaults to discarding.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithBootDelay makes Init wait d before the first command, giving a freshly
// powered module time to boot.
func (b *ConfigBuilder) WithBootDelay(d time.Duration) *ConfigBuilder {
	b.config.bootDelay = d
	return b
}

// WithInitTimeout bounds the whole initialization performed by New.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// Build validates the configuration and applies defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
