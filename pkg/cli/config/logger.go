package config

import (
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Logger holds CLI flags for the process logger
type Logger struct {
	level  string
	format string
	output string
}

// Flags returns CLI flags for logger configuration
func (l *Logger) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Category:    "Logging",
			Sources:     cli.EnvVars("SIMPLEMEM_LOG_LEVEL"),
			Destination: &l.level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Category:    "Logging",
			Sources:     cli.EnvVars("SIMPLEMEM_LOG_FORMAT"),
			Destination: &l.format,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Log output (stdout, stderr, - or a file path)",
			Value:       "stdout",
			Category:    "Logging",
			Sources:     cli.EnvVars("SIMPLEMEM_LOG_OUTPUT"),
			Destination: &l.output,
		},
	}
}

// LogValue implements slog.LogValuer
func (l Logger) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("level", l.level),
		slog.String("format", l.format),
		slog.String("output", l.output),
	)
}

// Configure installs the default logger and returns a closer for the output
func (l *Logger) Configure() (func(), error) {
	level, ok := logging.ParseLevel(l.level)
	if !ok {
		return nil, goerr.Wrap(ErrInvalidConfig, "unknown log level",
			goerr.V(FlagKey, "log-level"), goerr.V(ValueKey, l.level))
	}

	format := logging.Format(l.format)
	switch format {
	case logging.FormatConsole, logging.FormatJSON:
	case "":
		format = logging.FormatConsole
	default:
		return nil, goerr.Wrap(ErrInvalidConfig, "unknown log format",
			goerr.V(FlagKey, "log-format"), goerr.V(ValueKey, l.format))
	}

	var w io.Writer
	closer := func() {}
	switch l.output {
	case "", "-", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		// #nosec G304 - path is provided by the operator
		f, err := os.OpenFile(l.output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open log output", goerr.V("path", l.output))
		}
		w = f
		closer = func() {
			_ = f.Close()
		}
	}

	logging.SetDefault(logging.New(w, level, format))
	return closer, nil
}
