package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes launcher logging and the rotation policy applied to the
// supervised backend's output file.
type Config struct {
	Level      string `json:"level" mapstructure:"level"`               // debug|info|warn|error (default info)
	Dir        string `json:"dir" mapstructure:"dir"`                   // launcher log directory; stderr when empty
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`   // megabytes before rotation
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`   // number of backups to keep
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"` // days to keep
	Compress   bool   `json:"compress" mapstructure:"compress"`         // gzip rotated files
}

// Writer returns a rotating io.WriteCloser at the given path. Used for the
// backend child's redirected stdout/stderr.
func (c Config) Writer(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the launcher's own slog logger. With Dir set, logs go to a
// rotating file Dir/<name>.log; otherwise to stderr. The returned closer is
// a no-op for the stderr case.
func (c Config) New(name string) (*slog.Logger, io.Closer) {
	level := parseLevel(c.Level)
	if c.Dir == "" {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		return slog.New(h), nopCloser{}
	}
	_ = os.MkdirAll(c.Dir, 0o750)
	w := c.Writer(filepath.Join(c.Dir, name+".log"))
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), w
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
