package coordination

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/zap"
)

// hashiLogger adapts zap.Logger to the hclog interface raft expects.
type hashiLogger struct {
	logger *zap.Logger
	name   string
}

func newHashiLogger(logger *zap.Logger) hclog.Logger {
	return &hashiLogger{logger: logger, name: "raft"}
}

func (h *hashiLogger) fields(args []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}

func (h *hashiLogger) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		h.Debug(msg, args...)
	case hclog.Info:
		h.Info(msg, args...)
	case hclog.Warn:
		h.Warn(msg, args...)
	case hclog.Error:
		h.Error(msg, args...)
	default:
		h.Info(msg, args...)
	}
}

func (h *hashiLogger) Trace(msg string, args ...interface{}) {
	h.logger.Debug(msg, h.fields(args)...)
}

func (h *hashiLogger) Debug(msg string, args ...interface{}) {
	h.logger.Debug(msg, h.fields(args)...)
}

func (h *hashiLogger) Info(msg string, args ...interface{}) {
	h.logger.Info(msg, h.fields(args)...)
}

func (h *hashiLogger) Warn(msg string, args ...interface{}) {
	h.logger.Warn(msg, h.fields(args)...)
}

func (h *hashiLogger) Error(msg string, args ...interface{}) {
	h.logger.Error(msg, h.fields(args)...)
}

func (h *hashiLogger) IsTrace() bool {
	return h.logger.Core().Enabled(zap.DebugLevel)
}

func (h *hashiLogger) IsDebug() bool {
	return h.logger.Core().Enabled(zap.DebugLevel)
}

func (h *hashiLogger) IsInfo() bool {
	return h.logger.Core().Enabled(zap.InfoLevel)
}

func (h *hashiLogger) IsWarn() bool {
	return h.logger.Core().Enabled(zap.WarnLevel)
}

func (h *hashiLogger) IsError() bool {
	return h.logger.Core().Enabled(zap.ErrorLevel)
}

func (h *hashiLogger) ImpliedArgs() []interface{} {
	return nil
}

func (h *hashiLogger) With(args ...interface{}) hclog.Logger {
	return &hashiLogger{logger: h.logger.With(h.fields(args)...), name: h.name}
}

func (h *hashiLogger) Name() string {
	return h.name
}

func (h *hashiLogger) Named(name string) hclog.Logger {
	return &hashiLogger{logger: h.logger.Named(name), name: name}
}

func (h *hashiLogger) ResetNamed(name string) hclog.Logger {
	return &hashiLogger{logger: h.logger.Named(name), name: name}
}

func (h *hashiLogger) SetLevel(level hclog.Level) {}

func (h *hashiLogger) GetLevel() hclog.Level {
	switch {
	case h.IsDebug():
		return hclog.Debug
	case h.IsInfo():
		return hclog.Info
	case h.IsWarn():
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (h *hashiLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(h.StandardWriter(opts), "", 0)
}

func (h *hashiLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return &zapWriter{logger: h.logger}
}

type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}
