package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	mu            sync.RWMutex
)

// Init initializes the default logger with a JSON writer on os.Stderr at info level.
// It ensures that the logger is initialized only once; Configure replaces it later.
func Init() {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		mu.Lock()
		defaultLogger = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
		mu.Unlock()
	})
}

// Configure sets level ("debug", "info", ...) and format ("json" or "console")
// of the default logger. A nil writer means os.Stderr.
func Configure(level, format string, w io.Writer) error {
	Init()

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(format) {
	case "", "json":
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	default:
		return fmt.Errorf("invalid log format %q (want json or console)", format)
	}

	mu.Lock()
	defaultLogger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
	return nil
}

// Get returns the initialized default logger.
func Get() *zerolog.Logger {
	Init()
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	return &l
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Info logs an informational message with key/value pairs.
func Info(msg string, args ...any) {
	Get().Info().Fields(args).Msg(msg)
}

// Warn logs a warning message with key/value pairs.
func Warn(msg string, args ...any) {
	Get().Warn().Fields(args).Msg(msg)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	Get().Error().Err(err).Fields(args).Msg(msg)
}

// Debug logs a debug message with key/value pairs.
func Debug(msg string, args ...any) {
	Get().Debug().Fields(args).Msg(msg)
}
