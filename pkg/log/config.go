package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and format of a node's logs. NodeID is filled
// in at startup rather than read from config files, so every line from a
// node carries the same node_id as its relay and directory entries.
type Config struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	ServiceName string `mapstructure:"service_name"`
	NodeID      string `mapstructure:"-"`
}

var (
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
	once   sync.Once
)

// New builds a logger on stdout. Pretty switches to console output for
// local runs.
func New(cfg Config) zerolog.Logger {
	if !cfg.Pretty {
		return NewWithWriter(cfg, os.Stdout)
	}
	return NewWithWriter(cfg, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly})
}

func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	zc := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		zc = zc.Str(FieldService, cfg.ServiceName)
	}
	if cfg.NodeID != "" {
		zc = zc.Str(FieldNodeID, cfg.NodeID)
	}
	return zc.Logger()
}

// Init replaces the global logger. Only the first call takes effect.
// Output written through the standard log package lands in the same
// stream, tagged source=stdlog.
func Init(cfg Config) {
	once.Do(func() {
		global = New(cfg)
		stdlog.SetFlags(0)
		stdlog.SetOutput(global.With().Str("source", "stdlog").Logger())
	})
}

// L returns the global logger.
func L() zerolog.Logger {
	return global
}

// parseLevel maps a config level to zerolog. Unknown values log at info.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled", "none":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
