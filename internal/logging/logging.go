package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects the level and output format of the service logger.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logrus logger from cfg. Format is "json" or "text".
func New(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(parsed)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)

	return logger, nil
}

// Discard returns a logger that drops everything. Used by tests and the CLI.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
