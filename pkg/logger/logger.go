package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

var (
	ctxKey = loggerKey{}
)

type loggerKey struct{}

type handler int

const (
	JSONHandler handler = iota
	TextHandler
	DevHandler
)

// NOTE: reference
// https://go.dev/src/log/slog/example_custom_levels_test.go
const (
	DefaultLevel = slog.LevelInfo

	LevelTrace     = slog.Level(-8)
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelNotice    = slog.Level(2)
	LevelWarning   = slog.LevelWarn
	LevelError     = slog.LevelError
	LevelEmergency = slog.Level(12)
)

// Attribute keys shared by every component that logs about a session.
const (
	KeySessionID = "session_id"
	KeyMethod    = "method"
	KeyRequestID = "request_id"
)

type Logger interface {
	//
	// Methods from slog.Logger
	//
	Debug(msg string, args ...any)
	DebugContext(ctx context.Context, msg string, args ...any)
	Info(msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	Warn(msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	Error(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
	Handler() slog.Handler
	Level() slog.Level
	With(args ...any) Logger

	//
	// Methods added in wrapper
	//
	Trace(msg string, args ...any)
	TraceContext(ctx context.Context, msg string, args ...any)
	Notice(msg string, args ...any)
	NoticeContext(ctx context.Context, msg string, args ...any)
	Emergency(msg string, args ...any)
	EmergencyContext(ctx context.Context, msg string, args ...any)
	SLog() *slog.Logger
}

type LoggerOpt func(o *loggerOpts)

type loggerOpts struct {
	writer  io.Writer
	level   slog.Level
	handler handler
}

func WithLoggerLevel(lvl slog.Level) LoggerOpt {
	return func(o *loggerOpts) {
		o.level = lvl
	}
}

func WithLoggerWriter(w io.Writer) LoggerOpt {
	return func(o *loggerOpts) {
		o.writer = w
	}
}

func WithHandler(h handler) LoggerOpt {
	return func(o *loggerOpts) {
		o.handler = h
	}
}

// New creates a logger, reading LOG_HANDLER and LOG_LEVEL from the environment
// before applying opts.
func New(opts ...LoggerOpt) Logger {
	o := &loggerOpts{
		level:   ParseLevel(os.Getenv("LOG_LEVEL")),
		writer:  os.Stderr,
		handler: ParseHandler(os.Getenv("LOG_HANDLER")),
	}
	for _, apply := range opts {
		apply(o)
	}

	hopts := slog.HandlerOptions{
		Level: o.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := attr.Value.Any().(slog.Level); ok {
					// annotate additional levels properly
					switch lvl {
					case LevelTrace:
						return slog.String(attr.Key, "TRACE")
					case LevelNotice:
						return slog.String(attr.Key, "NOTICE")
					case LevelEmergency:
						return slog.String(attr.Key, "EMERGENCY")
					}
				}
			}
			return attr
		},
	}

	var h slog.Handler
	switch o.handler {
	case DevHandler:
		h = tint.NewHandler(o.writer, &tint.Options{
			Level:      o.level,
			TimeFormat: "[15:04:05.000]", // millisecond
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key != slog.LevelKey || len(groups) != 0 {
					return a
				}
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				// ref:
				// https://en.wikipedia.org/wiki/ANSI_escape_code#8-bit
				//
				// keep default color for warn and error
				switch lvl {
				case LevelTrace:
					return tint.Attr(13, slog.String(a.Key, "TRC"))
				case LevelDebug:
					return tint.Attr(3, slog.String(a.Key, "DBG"))
				case LevelInfo:
					return tint.Attr(14, slog.String(a.Key, "INF"))
				case LevelNotice:
					return tint.Attr(10, slog.String(a.Key, "NTC"))
				case LevelEmergency:
					return tint.Attr(9, slog.String(a.Key, "EMR"))
				}
				return a
			},
		})
	case TextHandler:
		h = slog.NewTextHandler(o.writer, &hopts)
	default:
		h = slog.NewJSONHandler(o.writer, &hopts)
	}

	return &logger{Logger: slog.New(h), level: o.level}
}

// From returns the logger stored in ctx, or a new logger if none is stored.
func From(ctx context.Context, opts ...LoggerOpt) Logger {
	if l, ok := ctx.Value(ctxKey).(Logger); ok && l != nil {
		return l
	}
	return New(opts...)
}

// WithStdlib stores l in the returned context.
func WithStdlib(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey, l)
}

func VoidLogger() Logger {
	return New(WithLoggerWriter(io.Discard))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "emergency":
		return LevelEmergency
	default:
		return DefaultLevel
	}
}

// ParseHandler maps LOG_HANDLER values to a handler. Unknown values use the
// dev handler.
func ParseHandler(name string) handler {
	switch strings.ToLower(name) {
	case "json":
		return JSONHandler
	case "txt", "text":
		return TextHandler
	default:
		return DevHandler
	}
}

// logger is a wrapper over slog with additional levels
type logger struct {
	*slog.Logger
	level slog.Level
}

func (l *logger) Level() slog.Level {
	return l.level
}

func (l *logger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	return &logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
	}
}

func (l *logger) Trace(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func (l *logger) TraceContext(ctx context.Context, msg string, args ...any) {
	l.Logger.Log(ctx, LevelTrace, msg, args...)
}

func (l *logger) Notice(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelNotice, msg, args...)
}

func (l *logger) NoticeContext(ctx context.Context, msg string, args ...any) {
	l.Logger.Log(ctx, LevelNotice, msg, args...)
}

func (l *logger) Emergency(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelEmergency, msg, args...)
}

func (l *logger) EmergencyContext(ctx context.Context, msg string, args ...any) {
	l.Logger.Log(ctx, LevelEmergency, msg, args...)
}

func (l *logger) SLog() *slog.Logger {
	return l.Logger
}
