// Package log provides the structured loggers used across proxyguard.
//
// Logs go to stderr so command output on stdout stays machine readable.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger is the root logger. Component loggers derive from it.
var Logger zerolog.Logger

// Component loggers.
var (
	Sidecar  zerolog.Logger
	Sync     zerolog.Logger
	Tx       zerolog.Logger
	Security zerolog.Logger
	Keyring  zerolog.Logger
	Storage  zerolog.Logger
	Demo     zerolog.Logger
)

// components maps each component logger to its "component" field.
var components = []struct {
	name string
	l    *zerolog.Logger
}{
	{"sidecar", &Sidecar},
	{"sync", &Sync},
	{"tx", &Tx},
	{"security", &Security},
	{"keyring", &Keyring},
	{"storage", &Storage},
	{"demo", &Demo},
}

const timeFormat = "15:04:05"

func init() {
	setRoot(NewConsoleLogger(os.Stderr, zerolog.InfoLevel))
}

// Init configures the root logger. Console output is colored unless
// jsonOutput is set. When file is non-empty every entry is also appended to
// it as JSON.
func Init(level string, jsonOutput bool, file string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var console io.Writer = os.Stderr
	if !jsonOutput {
		console = consoleWriter(os.Stderr)
	}
	out := console
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
	}
	setRoot(zerolog.New(out).Level(lvl).With().Timestamp().Logger())
	return nil
}

// NewConsoleLogger creates a human-readable logger writing to w.
func NewConsoleLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(consoleWriter(w)).Level(lvl).With().Timestamp().Logger()
}

// NewJSONLogger creates a JSON logger writing to w.
func NewJSONLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ParseLevel accepts debug, info, warn, error and off. An empty level is info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "off", "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, NoColor: noColor}
}

func setRoot(l zerolog.Logger) {
	Logger = l
	for _, c := range components {
		*c.l = Logger.With().Str("component", c.name).Logger()
	}
}

// Error starts an error entry on the root logger.
func Error() *zerolog.Event {
	return Logger.Error()
}
