package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "CLOUDTREE_CONFIG"
	EnvProvider = "CLOUDTREE_PROVIDER"
	EnvTokenDir = "CLOUDTREE_TOKEN_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CLOUDTREE_CONFIG: config file path
	Provider   string // CLOUDTREE_PROVIDER: provider section to use
	TokenDir   string // CLOUDTREE_TOKEN_DIR: token directory
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies them.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Provider:   os.Getenv(EnvProvider),
		TokenDir:   os.Getenv(EnvTokenDir),
	}

	if logger != nil {
		logger.Debug("environment overrides",
			slog.String("config", o.ConfigPath),
			slog.String("provider", o.Provider),
			slog.String("token_dir", o.TokenDir),
		)
	}

	return o
}
