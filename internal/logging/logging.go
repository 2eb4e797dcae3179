// Package logging provides logging setup for the host.
// Logs are written to both file and stdout by default.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	logFileName = "deskstream.log"
	logFileMode = 0644
	logDirMode  = 0755

	// ServiceEnv disables stdout logging when set to "1".
	ServiceEnv = "DESKSTREAM_SERVICE"
)

// Config holds logging configuration.
type Config struct {
	LogDir      string
	Debug       bool
	LogToStdout bool
	// Format is "json" (default) or "text".
	Format string
}

// Setup initializes logging with both file and optional stdout output.
// Returns the configured logger and a cleanup function to close the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}

	if cfg.LogDir == "" {
		return newLogger(os.Stdout, cfg.Format, opts), func() {}, nil
	}

	if err := os.MkdirAll(cfg.LogDir, logDirMode); err != nil {
		// Fall back to stdout-only logging
		return newLogger(os.Stdout, cfg.Format, opts), func() {}, nil
	}

	logPath := filepath.Join(cfg.LogDir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
	if err != nil {
		return newLogger(os.Stdout, cfg.Format, opts), func() {}, nil
	}

	// Ignore errors on Windows
	_ = os.Chmod(logPath, logFileMode)

	var writer io.Writer = logFile
	if cfg.LogToStdout {
		writer = io.MultiWriter(logFile, os.Stdout)
	}

	cleanup := func() {
		logFile.Close()
	}

	return newLogger(writer, cfg.Format, opts), cleanup, nil
}

// SetupWithDefaults creates a logger that writes to file and optionally stdout.
// When running as a service (DESKSTREAM_SERVICE=1), stdout is disabled so the
// service manager's stdout redirect does not duplicate every line.
func SetupWithDefaults(logDir string, debug bool) (*slog.Logger, func(), error) {
	return Setup(Config{
		LogDir:      logDir,
		Debug:       debug,
		LogToStdout: !RunningAsService(),
	})
}

// RunningAsService reports whether a service manager started the process.
func RunningAsService() bool {
	return os.Getenv(ServiceEnv) == "1"
}

// LogPath returns the log file path inside logDir.
func LogPath(logDir string) string {
	return filepath.Join(logDir, logFileName)
}

func newLogger(w io.Writer, format string, opts *slog.HandlerOptions) *slog.Logger {
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
