package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Options tunes Setup. The zero value logs at info level to stdout.
type Options struct {
	Level  slog.Level
	Output io.Writer
}

// ParseLevel maps a configuration string onto a slog level. Unknown values
// fall back to info.
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

// Setup installs a JSON slog logger tagged with the service and environment
// as the process default and returns it. The standard library logger is
// bridged to the same handler.
func Setup(service, env string, opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	tagged := handler.WithAttrs(attrs)
	logger := slog.New(tagged)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(tagged, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}

// Component returns logger scoped to a named component.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", name))
}
