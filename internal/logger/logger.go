// Package logger provides the process-wide zerolog logger and component child loggers.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level      string // trace, debug, info, warn, error
	Format     string // console or json
	TerminalID string
	Writer     io.Writer
}

// Logger is the project-wide logging type.
type Logger = zerolog.Logger

var (
	once sync.Once
	root atomic.Pointer[zerolog.Logger]
)

// Init builds the root logger. Only the first call has an effect.
func Init(opt Options) {
	once.Do(func() {
		root.Store(build(opt))
	})
}

// New builds a standalone logger without touching the root one.
func New(opt Options) *Logger {
	return build(opt)
}

func build(opt Options) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if strings.ToLower(opt.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(ParseLevel(opt.Level)).With().Timestamp()
	if opt.TerminalID != "" {
		ctx = ctx.Str("terminal", opt.TerminalID)
	}
	l := ctx.Logger()
	return &l
}

// Get returns the root logger, initializing it with info level if needed.
func Get() *Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(Options{Level: "info"})
	return root.Load()
}

// Component returns a child logger tagged with the component name.
func Component(name string) *Logger {
	l := Get().With().Str("component", name).Logger()
	return &l
}

// Nop returns a disabled logger, used by tests and optional dependencies.
func Nop() *Logger {
	l := zerolog.Nop()
	return &l
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
