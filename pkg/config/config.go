// Package config contains the configuration of a SASL negotiation.
package config

import (
	"github.com/apex/log"
	"github.com/ooni/minisasl/internal/codec"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/runtimex"
)

// Config contains options to run a SASL negotiation.
type Config struct {
	// saslOptions contains the options related to the negotiation.
	saslOptions *SASLOptions

	// logger will be used to log events.
	logger model.Logger

	// if a tracer is provided, it will be used to trace the negotiation.
	tracer model.HandshakeTracer
}

// NewConfig returns a Config ready to run a negotiation.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		saslOptions: &SASLOptions{MaxFrameSize: codec.MinMaxFrameSize},
		logger:      log.Log,
		tracer:      &model.DummyTracer{},
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize the configuration.
type Option func(config *Config)

// WithLogger configures the passed [Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// WithHandshakeTracer configures the passed [HandshakeTracer].
func WithHandshakeTracer(tracer model.HandshakeTracer) Option {
	return func(config *Config) {
		config.tracer = tracer
	}
}

// Tracer returns the handshake tracer.
func (c *Config) Tracer() model.HandshakeTracer {
	return c.tracer
}

// WithMaxFrameSize configures the largest SASL frame we send or accept.
func WithMaxFrameSize(size int) Option {
	return func(config *Config) {
		config.saslOptions.MaxFrameSize = size
	}
}

// WithMechanisms configures the mechanisms. An acceptor advertises all of them,
// an initiator needs exactly one.
func WithMechanisms(mechanisms ...string) Option {
	return func(config *Config) {
		config.saslOptions.Mechanisms = mechanisms
	}
}

// WithHostname configures the name of the host the initiator wants to reach.
func WithHostname(hostname string) Option {
	return func(config *Config) {
		config.saslOptions.Hostname = hostname
	}
}

// WithPlainCredentials configures the credentials for the PLAIN mechanism.
func WithPlainCredentials(username, password string) Option {
	return func(config *Config) {
		config.saslOptions.Username = username
		config.saslOptions.Password = password
	}
}

// WithConfigFile configures SASLOptions parsed from the given file.
func WithConfigFile(configPath string) Option {
	return func(config *Config) {
		saslOpts, err := ReadConfigFile(configPath)
		runtimex.PanicOnError(err, "cannot parse config file")
		config.saslOptions = saslOpts
	}
}

// WithSASLOptions configures the passed SASL options.
func WithSASLOptions(saslOptions *SASLOptions) Option {
	return func(config *Config) {
		config.saslOptions = saslOptions
	}
}

// SASLOptions returns the configured SASL options.
func (c *Config) SASLOptions() *SASLOptions {
	return c.saslOptions
}
