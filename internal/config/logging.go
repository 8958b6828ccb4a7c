package config

import (
	"fmt"
	"io"
	"strings"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"cdr.dev/slog/v3/sloggers/slogjson"
)

// Logger builds the process logger writing to w.
func (l Logging) Logger(w io.Writer) (slog.Logger, error) {
	var sink slog.Sink
	switch strings.ToLower(l.Format) {
	case "", "human":
		sink = sloghuman.Sink(w)
	case "json":
		sink = slogjson.Sink(w)
	default:
		return slog.Logger{}, fmt.Errorf("logging.format: unknown format %q", l.Format)
	}
	level, err := parseLevel(l.Level)
	if err != nil {
		return slog.Logger{}, err
	}
	return slog.Make(sink).Leveled(level), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level: unknown level %q", s)
	}
}
