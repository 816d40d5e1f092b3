// Package logging provides healbot's logging infrastructure built on
// charmbracelet/log. It exposes a factory for component-prefixed loggers and
// a server setup that mirrors output to a bounded rolling file.
//
// Setup must be called before New so child loggers inherit level and output;
// charmbracelet/log copies state at creation time.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logging defaults. Call once at startup.
// verbose sets the level to Debug; jsonFormat switches to NDJSON output.
func Setup(verbose, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// SetupServer additionally mirrors all log output to a rolling file at path,
// bounded to three 5 MB segments.
func SetupServer(verbose, jsonFormat bool, path string) {
	Setup(verbose, jsonFormat)
	if path == "" {
		return
	}
	roller := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes per segment
		MaxBackups: 3,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, roller))
}

// New creates a logger with the given component prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger.
// Primarily useful for capturing output in tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
