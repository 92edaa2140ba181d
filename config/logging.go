package config

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// NewLogger creates the console logger written to stderr.
// Unknown level names fall back to info.
func NewLogger(level string) *log.Logger {
	return NewWriterLogger(level, os.Stderr)
}

// NewWriterLogger creates a console logger written to w
func NewWriterLogger(level string, w io.Writer) *log.Logger {
	lvl := log.ParseLevel(level)
	if level == "" {
		lvl = log.InfoLevel
	}
	return &log.Logger{
		Level:      lvl,
		TimeFormat: "15:04:05",
		Writer: &log.ConsoleWriter{
			Writer:      w,
			QuoteString: true,
		},
	}
}

// DiscardLogger returns a logger that drops every entry
func DiscardLogger() *log.Logger {
	return &log.Logger{
		Level:  log.PanicLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}

// EnvLogLevel returns the level named by HATTIVATTI_LOG, for logging before the config is loaded
func EnvLogLevel() string {
	return getEnv("HATTIVATTI_LOG", "info")
}
