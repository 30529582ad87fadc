package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes structured events through zerolog. Warnings and errors are also
// handed to the collector, when one is attached, so repeated pipeline failures
// reach Kafka as one aggregated entry.
type Logger struct {
	zl zerolog.Logger

	mu        *sync.RWMutex
	collector **LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return newLogger(zl), nil
}

// Nop discards everything. Tests and volctl's quiet mode use it.
func Nop() *Logger {
	return newLogger(zerolog.Nop())
}

func newLogger(zl zerolog.Logger) *Logger {
	var c *LogCollector
	return &Logger{zl: zl, mu: &sync.RWMutex{}, collector: &c}
}

// With returns a child carrying fields on every event. Children share the collector.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.value())
	}
	return &Logger{zl: ctx.Logger(), mu: l.mu, collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), msg, fields)
	l.collect("warn", msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.addTo(e)
	}
	e.Msg(msg)
}

// AddCollector replaces any attached collector, flushing the old one first.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	c := NewLogCollector(cfg)
	l.mu.Lock()
	old := *l.collector
	*l.collector = c
	l.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	l.mu.Lock()
	old := *l.collector
	*l.collector = nil
	l.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (l *Logger) collect(level, msg string, fields []Field) {
	l.mu.RLock()
	c := *l.collector
	l.mu.RUnlock()
	if c == nil {
		return
	}
	// skip collect and Warn/Error
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		if i := strings.LastIndex(file, "VolCast/"); i >= 0 {
			file = file[i+len("VolCast/"):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.value()
	}
	c.AddLog(level, msg, m, caller)
}
