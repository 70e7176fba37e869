// Package config provides Viper-based configuration loading for the
// real-time delivery server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings for the transport
// upgrade endpoints.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ShutdownTimeout bounds graceful drain on stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BusConfig holds NATS connection and publish retry settings.
type BusConfig struct {
	// URL is the NATS server URL (nats://host:port).
	URL string `mapstructure:"url"`
	// MaxAttempts is the number of publish attempts before an envelope
	// is dead-lettered.
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// PublishQueueSize bounds the pending publish queue.
	PublishQueueSize int `mapstructure:"publish_queue_size"`
	// DispatchQueueSize bounds each subscription's callback queue.
	DispatchQueueSize int `mapstructure:"dispatch_queue_size"`
	// DeadLetterLimit bounds the in-memory dead letter store.
	DeadLetterLimit int `mapstructure:"dead_letter_limit"`
}

// PayloadConfig holds payload optimizer size limits.
type PayloadConfig struct {
	// CompressionThreshold is the size in bytes at which payloads are
	// considered for compression.
	CompressionThreshold int `mapstructure:"compression_threshold"`
	// MaxPayloadSize is the uncompressed size above which compression
	// is mandatory.
	MaxPayloadSize int `mapstructure:"max_payload_size"`
	// MaxCompressedSize is the hard ceiling on the compressed size.
	MaxCompressedSize int `mapstructure:"max_compressed_size"`
	// MinCompressionGain is the fractional size reduction required for
	// an optional compression to be kept (0.10 = 10%).
	MinCompressionGain float64 `mapstructure:"min_compression_gain"`
}

// TransportConfig holds per-connection transport settings.
type TransportConfig struct {
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the WebSocket keepalive interval.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Bus       BusConfig       `mapstructure:"bus"`
	Payload   PayloadConfig   `mapstructure:"payload"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBus(c.Bus); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validatePayload(c.Payload); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTransport(c.Transport); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBus(b BusConfig) error {
	var errs []string
	if b.URL == "" {
		errs = append(errs, "bus.url must not be empty")
	}
	if b.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("bus.max_attempts must be >= 1, got %d", b.MaxAttempts))
	}
	if b.InitialBackoff <= 0 {
		errs = append(errs, "bus.initial_backoff must be positive")
	}
	if b.MaxBackoff < b.InitialBackoff {
		errs = append(errs, "bus.max_backoff must not be less than bus.initial_backoff")
	}
	if b.PublishQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("bus.publish_queue_size must be >= 1, got %d", b.PublishQueueSize))
	}
	if b.DispatchQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("bus.dispatch_queue_size must be >= 1, got %d", b.DispatchQueueSize))
	}
	if b.DeadLetterLimit < 1 {
		errs = append(errs, fmt.Sprintf("bus.dead_letter_limit must be >= 1, got %d", b.DeadLetterLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePayload(p PayloadConfig) error {
	var errs []string
	if p.CompressionThreshold < 1 {
		errs = append(errs, fmt.Sprintf("payload.compression_threshold must be >= 1, got %d", p.CompressionThreshold))
	}
	if p.MaxPayloadSize < p.CompressionThreshold {
		errs = append(errs, "payload.max_payload_size must not be less than payload.compression_threshold")
	}
	if p.MaxCompressedSize < 1 {
		errs = append(errs, fmt.Sprintf("payload.max_compressed_size must be >= 1, got %d", p.MaxCompressedSize))
	}
	if p.MinCompressionGain < 0 || p.MinCompressionGain >= 1 {
		errs = append(errs, fmt.Sprintf("payload.min_compression_gain must be in [0, 1), got %g", p.MinCompressionGain))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.WriteTimeout <= 0 {
		errs = append(errs, "transport.write_timeout must be positive")
	}
	if t.PingInterval <= 0 {
		errs = append(errs, "transport.ping_interval must be positive")
	}
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with MUD_ prefix
	v.SetEnvPrefix("MUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default builds a Config from defaults alone, without a file on disk.
//
// Postcondition: Returns a Config that passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("unmarshalling default config: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 54731)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.max_attempts", 3)
	v.SetDefault("bus.initial_backoff", 100*time.Millisecond)
	v.SetDefault("bus.max_backoff", 5*time.Second)
	v.SetDefault("bus.publish_queue_size", 1024)
	v.SetDefault("bus.dispatch_queue_size", 256)
	v.SetDefault("bus.dead_letter_limit", 1000)

	v.SetDefault("payload.compression_threshold", 10*1024)
	v.SetDefault("payload.max_payload_size", 100*1024)
	v.SetDefault("payload.max_compressed_size", 50*1024)
	v.SetDefault("payload.min_compression_gain", 0.10)

	v.SetDefault("transport.write_timeout", 10*time.Second)
	v.SetDefault("transport.ping_interval", 30*time.Second)
	v.SetDefault("transport.send_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
