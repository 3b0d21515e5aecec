package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/wavefront/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("wavefront", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Wavefront - a round-based ray tracing task scheduler.

Usage:
  wavefront [options] [SCENE_PATH...]

Arguments:
  SCENE_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	sceneFlag := flagSet.String("scene", "", "Path to the scene file or directory.")
	sFlag := flagSet.String("s", "", "Path to the scene file or directory (shorthand).")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health and status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	roundsFlag := flagSet.Int("rounds", 0, "Round budget per batch. 0 derives it from the pool sizes.")
	lanesFlag := flagSet.Int("lanes", 0, "Parallel lanes per dispatch. 0 uses the scene setting or GOMAXPROCS.")
	builderFlag := flagSet.String("builder", "", "Acceleration structure. Options: 'sah', 'lbvh', 'linear'. Empty uses the scene setting.")
	reportFlag := flagSet.String("report-url", "", "socket.io server URL to stream round progress to.")
	outputFlag := flagSet.String("output", "", "Image file to write (.png, .jpg, .bmp).")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("Arguments parsed successfully.")

	var paths []string
	for _, p := range []string{*sceneFlag, *sFlag} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	paths = append(paths, flagSet.Args()...)
	slog.Debug("Scene paths determined.", "paths", paths)

	if len(paths) == 0 {
		slog.Debug("No scene path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ScenePaths:      paths,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		ReportURL:       *reportFlag,
		Output:          *outputFlag,
		Rounds:          *roundsFlag,
		Lanes:           *lanesFlag,
		Builder:         strings.ToLower(*builderFlag),
	})
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
