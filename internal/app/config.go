package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Config holds all the necessary configuration for an App instance to run.
// Zero values leave the corresponding setting of the scene files in charge.
type Config struct {
	ScenePaths []string // hcl files or directories

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// ReportURL, when set, streams progress to a socket.io server.
	ReportURL string
	// Output is the image file to write; the extension picks the encoder.
	Output string

	// Overrides of the batch block.
	Rounds  int
	Lanes   int
	Builder string
}

// imageFormats are the extensions writeImage understands.
var imageFormats = []string{".png", ".jpg", ".jpeg", ".bmp"}

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ScenePaths) == 0 {
		return nil, errors.New("at least one scene path is required")
	}
	if cfg.Rounds < 0 || cfg.Lanes < 0 {
		return nil, errors.New("rounds and lanes cannot be negative")
	}
	switch cfg.Builder {
	case "", "sah", "lbvh", "linear":
	default:
		return nil, fmt.Errorf("unknown builder %q: must be 'sah', 'lbvh' or 'linear'", cfg.Builder)
	}
	if cfg.Output != "" {
		ext := strings.ToLower(filepath.Ext(cfg.Output))
		known := false
		for _, f := range imageFormats {
			known = known || ext == f
		}
		if !known {
			return nil, fmt.Errorf("unsupported output format %q", ext)
		}
	}
	return &cfg, nil
}
