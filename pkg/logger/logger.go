package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin structured wrapper over zerolog.
type Logger struct {
	zl        zerolog.Logger
	context   []Field
	collector *Collector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: timeFormat,
		}
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the given fields on every event.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.addToContext(ctx)
	}
	merged := make([]Field, 0, len(l.context)+len(fields))
	merged = append(append(merged, l.context...), fields...)
	return &Logger{zl: ctx.Logger(), context: merged, collector: l.collector}
}

// WithCollector returns a logger that also hands warnings and errors to c.
func (l *Logger) WithCollector(c *Collector) *Logger {
	cp := *l
	cp.collector = c
	return &cp
}

func (l *Logger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { emit(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	emit(l.zl.Warn(), msg, fields)
	l.collect(zerolog.WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	emit(l.zl.Error(), msg, fields)
	l.collect(zerolog.ErrorLevel, msg, fields)
}

// collect forwards an emitted event to the collector keyed by its component field.
func (l *Logger) collect(level zerolog.Level, msg string, fields []Field) {
	if l.collector == nil || level < l.zl.GetLevel() {
		return
	}
	m := make(map[string]interface{}, len(l.context)+len(fields))
	for _, f := range l.context {
		k, v := f.keyValue()
		m[k] = v
	}
	for _, f := range fields {
		k, v := f.keyValue()
		m[k] = v
	}
	component, _ := m["component"].(string)
	delete(m, "component")
	l.collector.Add(level.String(), component, msg, m)
}

func emit(event *zerolog.Event, msg string, fields []Field) {
	for _, field := range fields {
		field.AddTo(event)
	}
	event.Msg(msg)
}

// Field is one structured key/value attached to a log event.
type Field interface {
	AddTo(event *zerolog.Event)
	addToContext(ctx zerolog.Context) zerolog.Context
	keyValue() (string, interface{})
}

type StringField struct {
	Key   string
	Value string
}

func (f StringField) keyValue() (string, interface{}) { return f.Key, f.Value }

func (f StringField) AddTo(event *zerolog.Event) { event.Str(f.Key, f.Value) }

func (f StringField) addToContext(ctx zerolog.Context) zerolog.Context { return ctx.Str(f.Key, f.Value) }

type IntField struct {
	Key   string
	Value int
}

func (f IntField) keyValue() (string, interface{}) { return f.Key, f.Value }

func (f IntField) AddTo(event *zerolog.Event) { event.Int(f.Key, f.Value) }

func (f IntField) addToContext(ctx zerolog.Context) zerolog.Context { return ctx.Int(f.Key, f.Value) }

type Int64Field struct {
	Key   string
	Value int64
}

func (f Int64Field) keyValue() (string, interface{}) { return f.Key, f.Value }

func (f Int64Field) AddTo(event *zerolog.Event) { event.Int64(f.Key, f.Value) }

func (f Int64Field) addToContext(ctx zerolog.Context) zerolog.Context {
	return ctx.Int64(f.Key, f.Value)
}

type Float64Field struct {
	Key   string
	Value float64
}

func (f Float64Field) keyValue() (string, interface{}) { return f.Key, f.Value }

func (f Float64Field) AddTo(event *zerolog.Event) { event.Float64(f.Key, f.Value) }

func (f Float64Field) addToContext(ctx zerolog.Context) zerolog.Context {
	return ctx.Float64(f.Key, f.Value)
}

type ErrorField struct {
	Value error
}

func (f ErrorField) keyValue() (string, interface{}) {
	if f.Value == nil {
		return zerolog.ErrorFieldName, nil
	}
	return zerolog.ErrorFieldName, f.Value.Error()
}

func (f ErrorField) AddTo(event *zerolog.Event) { event.Err(f.Value) }

func (f ErrorField) addToContext(ctx zerolog.Context) zerolog.Context { return ctx.Err(f.Value) }

type AnyField struct {
	Key   string
	Value interface{}
}

func (f AnyField) keyValue() (string, interface{}) { return f.Key, f.Value }

func (f AnyField) AddTo(event *zerolog.Event) { event.Interface(f.Key, f.Value) }

func (f AnyField) addToContext(ctx zerolog.Context) zerolog.Context {
	return ctx.Interface(f.Key, f.Value)
}

type BoolField struct {
	Key   string
	Value bool
}

func (f BoolField) keyValue() (string, interface{}) { return f.Key, f.Value }

func (f BoolField) AddTo(event *zerolog.Event) { event.Bool(f.Key, f.Value) }

func (f BoolField) addToContext(ctx zerolog.Context) zerolog.Context { return ctx.Bool(f.Key, f.Value) }

// --- Field constructors ---

func String(key, value string) Field { return StringField{Key: key, Value: value} }

func Int(key string, value int) Field { return IntField{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Int64Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Float64Field{Key: key, Value: value} }

func Error(err error) Field { return ErrorField{Value: err} }

func Any(key string, value interface{}) Field { return AnyField{Key: key, Value: value} }

func Bool(key string, value bool) Field { return BoolField{Key: key, Value: value} }

// Day logs a calendar date as YYYY-MM-DD.
func Day(key string, value time.Time) Field {
	return StringField{Key: key, Value: value.Format("2006-01-02")}
}

func Duration(key string, value time.Duration) Field {
	return Int64Field{Key: key, Value: int64(value / time.Millisecond)}
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}
