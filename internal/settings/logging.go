package settings

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelOff disables logging entirely.
const LevelOff = "off"

// ParseLevel maps a level name to a slog level. "off" maps to a level above
// every record.
func ParseLevel(name string) (slog.Level, error) {
	if strings.EqualFold(name, LevelOff) {
		return slog.LevelError + 1, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("%w: logs.level %q", ErrInvalid, name)
	}
	return l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger. Records go to a rotating file when
// cfg.File is set, otherwise to stderr. The returned closer flushes and
// closes the log file.
func NewLogger(cfg LogSettings, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	if strings.EqualFold(cfg.Level, LevelOff) {
		return slog.New(slog.DiscardHandler), nopCloser{}, nil
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		w, closer = rotator, rotator
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer, nil
}
