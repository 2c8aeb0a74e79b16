// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cloudtree. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// named provider sections, one per storage account.
package config

// Provider kinds.
const (
	KindOneDrive = "onedrive"
	KindObjStore = "objstore"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DefaultProvider string              `toml:"default_provider"`
	Logging         LoggingConfig       `toml:"logging"`
	Transfers       TransfersConfig     `toml:"transfers"`
	Auth            AuthConfig          `toml:"auth"`
	Journal         JournalConfig       `toml:"journal"`
	Metrics         MetricsConfig       `toml:"metrics"`
	Network         NetworkConfig       `toml:"network"`
	Providers       map[string]Provider `toml:"provider"`
}

// LoggingConfig controls log output: level and handler format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // auto, text or json
	File   string `toml:"file"`
}

// TransfersConfig controls transfer monitoring and CLI parallelism.
type TransfersConfig struct {
	PollInterval   string `toml:"poll_interval"`
	WatchFiles     bool   `toml:"watch_files"`
	MaxConcurrency int    `toml:"max_concurrency"`
}

// AuthConfig controls the OAuth flow and where tokens are kept.
type AuthConfig struct {
	TokenDir     string `toml:"token_dir"`
	CallbackPort int    `toml:"callback_port"` // 0 picks an ephemeral port
	Timeout      string `toml:"timeout"`
}

// JournalConfig controls the transfer history database.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// MetricsConfig controls the Prometheus textfile export. An empty Textfile
// disables it.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// NetworkConfig controls HTTP client timeouts.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}

// Provider is one [provider.<name>] section.
type Provider struct {
	Kind     string `toml:"kind"`
	ClientID string `toml:"client_id,omitempty"`
	Tenant   string `toml:"tenant,omitempty"`
	DriveID  string `toml:"drive_id,omitempty"`
	BaseURL  string `toml:"base_url,omitempty"`
	URI      string `toml:"uri,omitempty"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	Provider   string // --provider flag
	Journal    *bool  // --journal flag
}
