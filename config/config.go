package config

import (
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// Prefix is prepended to every environment variable read by New.
const Prefix = "MINI_"

// Config holds all application configuration.
type Config struct {
	Port         int           `env:"PORT" envDefault:"8080"`
	Host         string        `env:"HOST"`
	Env          string        `env:"ENV" envDefault:"development"`
	LogLevel     zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName  string        `env:"SERVICE_NAME" envDefault:"mini-server"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`

	// ReadBufferSize bounds how much of a request is read. The rest is
	// dropped.
	ReadBufferSize int `env:"READ_BUFFER_SIZE" envDefault:"512"`

	// TraceExporter selects where spans go: "none" or "stdout".
	TraceExporter string `env:"TRACE_EXPORTER" envDefault:"none"`
}

// New loads configuration from MINI_ prefixed environment variables.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Newf("port %d out of range", c.Port)
	}
	if c.ReadBufferSize <= 0 {
		return errors.Newf("read buffer size must be positive, got %d", c.ReadBufferSize)
	}
	switch c.TraceExporter {
	case "none", "stdout":
	default:
		return errors.Newf("unsupported trace exporter %q (supported: none, stdout)", c.TraceExporter)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
