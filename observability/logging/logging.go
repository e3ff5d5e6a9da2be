package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes where and how logs are written.
type Options struct {
	Service string
	Env     string
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string
	// Format selects "json" (default) or "console". Console output is colourised
	// and meant for local development only.
	Format string
	// File, when set, receives a rotated copy of every JSON log line.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// AllowKeys extends the keys MaskField leaves readable.
	AllowKeys []string
	// SecretKeys extends the keys masked in every log line.
	SecretKeys []string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps a textual level onto slog.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func renameCoreKeys(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return attr
}

// NewHandler builds the handler described by opts, writing to out unless a
// rotated file is configured. The returned closer releases the log file.
func NewHandler(out io.Writer, opts Options) (slog.Handler, io.Closer) {
	level := ParseLevel(opts.Level)
	redactor := NewRedactor(opts.AllowKeys, opts.SecretKeys)
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		return tint.NewHandler(out, &tint.Options{
			Level:       level,
			TimeFormat:  "15:04:05.000",
			ReplaceAttr: redactor.ReplaceAttr,
		}), nopCloser{}
	}

	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(opts.File); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			return renameCoreKeys(groups, redactor.ReplaceAttr(groups, attr))
		},
	}), closer
}

// Setup configures the standard library logger to emit structured logs and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	handler, closer := NewHandler(os.Stdout, opts)

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(opts.Service)),
	}
	if env := strings.TrimSpace(opts.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler = handler.WithAttrs(attrs)

	active.Store(NewRedactor(opts.AllowKeys, opts.SecretKeys))
	base := slog.New(handler)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer
}
