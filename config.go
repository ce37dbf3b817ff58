package feetech

import (
	"context"
	"fmt"
	"log"
	"time"
)

// defaultBaud and defaultTimeout match §6: 1,000,000 bps default, and a
// per-transaction deadline generous enough for a handful of chunk reads.
const (
	defaultBaud    = 1_000_000
	defaultTimeout = 100 * time.Millisecond
)

// Config configures a Bus: which serial port to open, at what baud, which
// control-table model to use, the per-transaction timeout, and an optional
// trace logger. NewConfig fills in the defaults; Verify and Open do not, and
// reject a zero Baud or Timeout. An empty Model selects "sts3215".
type Config struct {
	Port    string
	Baud    int
	Model   string
	Timeout time.Duration
	Logger  *log.Logger
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithBaud overrides the default baud rate (1,000,000).
func WithBaud(baud int) Option {
	return func(c *Config) { c.Baud = baud }
}

// WithTimeout overrides the default per-transaction timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithModel selects a control-table model by name. Only "sts3215" is
// supported by this module.
func WithModel(name string) Option {
	return func(c *Config) { c.Model = name }
}

// WithLogger attaches a trace logger; pass nil (the default) for silence.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// NewConfig builds a Config for port with the given options applied over
// the defaults.
func NewConfig(port string, opts ...Option) Config {
	cfg := Config{
		Port:    port,
		Baud:    defaultBaud,
		Model:   "sts3215",
		Timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Verify validates cfg, returning an error describing the first invalid
// field found.
func (cfg Config) Verify() error {
	if cfg.Port == "" {
		return fmt.Errorf("feetech: config: port is required")
	}
	if cfg.Baud <= 0 {
		return fmt.Errorf("feetech: config: baud must be positive, got %d", cfg.Baud)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("feetech: config: timeout must be positive, got %s", cfg.Timeout)
	}
	if _, err := cfg.controlTable(); err != nil {
		return err
	}
	return nil
}

func (cfg Config) controlTable() (ControlTable, error) {
	switch cfg.Model {
	case "", "sts3215":
		return STS3215{}, nil
	default:
		return nil, fmt.Errorf("feetech: config: unknown model %q", cfg.Model)
	}
}

// Open verifies cfg, opens the configured serial port, and returns a ready
// Bus over it.
func (cfg Config) Open(ctx context.Context) (*Bus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	table, _ := cfg.controlTable()

	transport, err := OpenSerialTransport(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, err
	}
	return NewBus(transport, table, cfg.Timeout, cfg.Logger), nil
}
