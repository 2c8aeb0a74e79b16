package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultPollInterval   = "1s"
	defaultMaxConcurrency = 4
	defaultAuthTimeout    = "5m"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
// Path defaults are left empty and filled in by Resolve.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Transfers: TransfersConfig{
			PollInterval:   defaultPollInterval,
			MaxConcurrency: defaultMaxConcurrency,
		},
		Auth: AuthConfig{
			Timeout: defaultAuthTimeout,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
		Providers: make(map[string]Provider),
	}
}
