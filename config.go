package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// LogFormat selects the log handler: "json" or "text"
	LogFormat string
	// BootDelay is waited before the first command sent to the modem
	BootDelay time.Duration
	// APN is the GPRS access point name. The bearer is only opened when set.
	APN string
	// APNUser and APNPassword are the optional bearer credentials
	APNUser     string
	APNPassword string
}

// fileConfig is the TOML layout of the configuration file.
type fileConfig struct {
	BindAddress string `toml:"bind_address"`
	SerialPort  string `toml:"serial_port"`
	BaudRate    int    `toml:"baud_rate"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	BootDelay   string `toml:"boot_delay"`
	APN         string `toml:"apn"`
	APNUser     string `toml:"apn_user"`
	APNPassword string `toml:"apn_password"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.LogFormat = "json"
		c.BootDelay = time.Second
		return nil
	}
}

// WithFile loads configuration from a TOML file. Only the keys present in
// the file are applied. An empty path is skipped.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}

		if meta.IsDefined("bind_address") {
			c.BindAddress = raw.BindAddress
		}
		if meta.IsDefined("serial_port") {
			c.SerialPort = raw.SerialPort
		}
		if meta.IsDefined("baud_rate") {
			c.BaudRate = raw.BaudRate
		}
		if meta.IsDefined("log_level") {
			c.LogLevel = raw.LogLevel
		}
		if meta.IsDefined("log_format") {
			c.LogFormat = raw.LogFormat
		}
		if meta.IsDefined("boot_delay") {
			d, err := time.ParseDuration(raw.BootDelay)
			if err != nil {
				return fmt.Errorf("load config %s: boot_delay: %w", path, err)
			}
			c.BootDelay = d
		}
		if meta.IsDefined("apn") {
			c.APN = raw.APN
		}
		if meta.IsDefined("apn_user") {
			c.APNUser = raw.APNUser
		}
		if meta.IsDefined("apn_password") {
			c.APNPassword = raw.APNPassword
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if format := os.Getenv("LOG_FORMAT"); format != "" {
			c.LogFormat = format
		}

		if delay := os.Getenv("BOOT_DELAY"); delay != "" {
			if d, err := time.ParseDuration(delay); err == nil {
				c.BootDelay = d
			}
		}

		if apn := os.Getenv("APN"); apn != "" {
			c.APN = apn
		}

		if user := os.Getenv("APN_USER"); user != "" {
			c.APNUser = user
		}

		if password := os.Getenv("APN_PASSWORD"); password != "" {
			c.APNPassword = password
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "log-format":
				c.LogFormat = f.Value.String()
			case "boot-delay":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.BootDelay = d
				}
			case "apn":
				c.APN = f.Value.String()
			case "apn-user":
				c.APNUser = f.Value.String()
			case "apn-password":
				c.APNPassword = f.Value.String()
			}
		})
		return nil
	}
}

// configPath returns the configuration file named by the -config flag or,
// when the flag is not set, by CONFIG_FILE.
func configPath(fSet *flag.FlagSet) string {
	path := os.Getenv("CONFIG_FILE")
	fSet.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			path = f.Value.String()
		}
	})
	return path
}
