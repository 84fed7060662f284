package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Config holds the logger configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	File   string `mapstructure:"file"`
}

// NewLogger initializes a new slog logger based on the provided configuration.
// A non-nil output overrides cfg.Output. The "both" output writes human
// readable text to stdout and JSON to cfg.File.
func NewLogger(cfg Config, output io.Writer) *slog.Logger {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = new(slog.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	if output == nil && cfg.Output == "both" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			fmt.Printf("Failed to open log file: %v\n", err)
			return slog.New(slog.NewTextHandler(os.Stdout, opts))
		}
		return slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, opts),
			slog.NewJSONHandler(file, opts),
		))
	}

	if output == nil {
		output = resolveOutput(cfg)
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text":
		fallthrough
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

func resolveOutput(cfg Config) io.Writer {
	switch cfg.Output {
	case "stderr":
		return os.Stderr
	case "file":
		file, err := openLogFile(cfg.File)
		if err != nil {
			fmt.Printf("Failed to open log file: %v\n", err)
			return os.Stdout
		}
		return file
	default:
		return os.Stdout
	}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		path = "testrunner.log"
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}
