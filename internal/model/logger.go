// Package model contains the data models shared by the SASL layers.
package model

// Logger is the generic logger definition. It is compatible with github.com/apex/log.
type Logger interface {
	// Debug emits a debug message.
	Debug(msg string)

	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Info emits an informational message.
	Info(msg string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Warn emits a warning message.
	Warn(msg string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)
}

// NewPrefixLogger returns a [Logger] that prepends prefix and a space to every message.
func NewPrefixLogger(logger Logger, prefix string) Logger {
	return &prefixLogger{logger: logger, prefix: prefix + " "}
}

type prefixLogger struct {
	logger Logger
	prefix string
}

var _ Logger = &prefixLogger{}

func (pl *prefixLogger) Debug(msg string) {
	pl.logger.Debug(pl.prefix + msg)
}

func (pl *prefixLogger) Debugf(format string, v ...any) {
	pl.logger.Debugf(pl.prefix+format, v...)
}

func (pl *prefixLogger) Info(msg string) {
	pl.logger.Info(pl.prefix + msg)
}

func (pl *prefixLogger) Infof(format string, v ...any) {
	pl.logger.Infof(pl.prefix+format, v...)
}

func (pl *prefixLogger) Warn(msg string) {
	pl.logger.Warn(pl.prefix + msg)
}

func (pl *prefixLogger) Warnf(format string, v ...any) {
	pl.logger.Warnf(pl.prefix+format, v...)
}
