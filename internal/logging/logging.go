package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format represents the logging output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("invalid log format %q (must be text or json)", s)
}

type state struct {
	format  Format
	level   zap.AtomicLevel
	writer  io.Writer
	logger  *zap.Logger
	restore func()
}

var (
	mu      sync.RWMutex
	current = newState()
)

func newState() *state {
	s := &state{
		format: FormatText,
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		writer: os.Stderr,
	}
	s.build()
	return s
}

func (s *state) build() {
	var enc zapcore.Encoder
	if s.format == FormatJSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.MessageKey = "message"
		cfg.NameKey = "component"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		}
		cfg.CallerKey = ""
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(s.writer)), s.level)
	s.logger = zap.New(core)

	// Route stray standard library log output through zap as well
	if s.restore != nil {
		s.restore()
	}
	s.restore = zap.RedirectStdLog(s.logger.Named("stdlog"))
}

// Configure sets format, level and output in one step
func Configure(format Format, level string, w io.Writer) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	mu.Lock()
	defer mu.Unlock()
	current.format = format
	current.level.SetLevel(lvl)
	if w != nil {
		current.writer = w
	}
	current.build()
	return nil
}

// SetFormat sets the logging format globally
func SetFormat(format Format) {
	mu.Lock()
	defer mu.Unlock()
	current.format = format
	current.build()
}

// SetWriter sets the output writer
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	current.writer = w
	current.build()
}

// GetFormat returns the current logging format
func GetFormat() Format {
	mu.RLock()
	defer mu.RUnlock()
	return current.format
}

// Logger returns the zap logger for a component
func Logger(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current.logger.Named(component)
}

// Sync flushes buffered output
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return current.logger.Sync()
}

// Debug logs a debug message
func Debug(component, message string, fields ...zap.Field) {
	Logger(component).Debug(message, fields...)
}

// Info logs an info message
func Info(component, message string, fields ...zap.Field) {
	Logger(component).Info(message, fields...)
}

// Warn logs a warning
func Warn(component, message string, fields ...zap.Field) {
	Logger(component).Warn(message, fields...)
}

// Error logs an error message
func Error(component, message string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	Logger(component).Error(message, fields...)
}

// ProbeResult logs a probe result. Replies go to debug, losses to info.
func ProbeResult(target string, latencyMs float64, success bool, errMsg string) {
	l := Logger("Probe")
	if success {
		l.Debug("reply", zap.String("target", target), zap.Float64("latency_ms", latencyMs))
		return
	}
	l.Info("loss", zap.String("target", target), zap.String("error", errMsg))
}

// Event logs an anomaly event line
func Event(target, text string) {
	Logger("Event").Warn(text, zap.String("target", target))
}
