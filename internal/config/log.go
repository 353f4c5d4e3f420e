package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// GetLogFormat returns "json" when LOG_FORMAT asks for it and "text" otherwise.
func (c *Config) GetLogFormat() string {
	if strings.EqualFold(c.v.GetString("LOG_FORMAT"), "json") {
		return "json"
	}
	return "text"
}

// SetupLog installs the default slog logger on stderr. Its level follows
// LOG_LEVEL, including changes picked up from a watched config file.
func SetupLog(cfg *Config) {
	slog.SetDefault(newLogger(cfg, os.Stderr))
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	lv := new(slog.LevelVar)
	cfg.OnLogLevelChange(lv.Set)
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.GetLogFormat() == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", cfg.GetServiceName())
}
