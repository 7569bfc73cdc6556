package simex

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})).
	With(slog.String("component", "simex"))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// SetLogLevel changes the level of the default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// Logger returns the package logger.
func Logger() *slog.Logger {
	return logger
}
