package config

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
)

// adHocName is the provider name given to a selector that is itself a vfs
// URI and has no config section.
const adHocName = "adhoc"

// Resolved is one provider section merged with the global sections after
// every override layer. Durations are parsed.
type Resolved struct {
	ConfigPath string
	Name       string
	Provider   Provider

	Logging   LoggingConfig
	Transfers TransfersConfig
	Auth      AuthConfig
	Journal   JournalConfig
	Metrics   MetricsConfig
	Network   NetworkConfig

	PollInterval   time.Duration
	AuthTimeout    time.Duration
	ConnectTimeout time.Duration
	DataTimeout    time.Duration
}

// matchProvider selects a provider section. Precedence: exact name, then
// default_provider, then the only configured provider. A selector that is a
// URI ("mem://...", "file:///...") yields an unconfigured objstore provider,
// so the CLI works with no config file at all.
func matchProvider(cfg *Config, selector string, logger *slog.Logger) (string, Provider, error) {
	if strings.Contains(selector, "://") {
		if logger != nil {
			logger.Debug("zero-config mode: using selector as objstore URI", slog.String("uri", selector))
		}

		return adHocName, Provider{Kind: KindObjStore, URI: selector}, nil
	}

	if selector != "" {
		p, ok := cfg.Providers[selector]
		if !ok {
			return "", Provider{}, fmt.Errorf("no [provider.%s] section in config (configured: %s)",
				selector, strings.Join(providerNames(cfg), ", "))
		}

		return selector, p, nil
	}

	if cfg.DefaultProvider != "" {
		return cfg.DefaultProvider, cfg.Providers[cfg.DefaultProvider], nil
	}

	switch len(cfg.Providers) {
	case 0:
		return "", Provider{}, fmt.Errorf("no providers configured, run 'cloudtree config init' to get started")
	case 1:
		name := providerNames(cfg)[0]

		return name, cfg.Providers[name], nil
	default:
		return "", Provider{}, fmt.Errorf("several providers configured (%s), pick one with --provider",
			strings.Join(providerNames(cfg), ", "))
	}
}

func providerNames(cfg *Config) []string {
	return slices.Sorted(maps.Keys(cfg.Providers))
}

// newResolved merges the global sections into the selected provider and
// fills path defaults.
func newResolved(cfg *Config, cfgPath, name string, p Provider) (*Resolved, error) {
	r := &Resolved{
		ConfigPath: cfgPath,
		Name:       name,
		Provider:   p,
		Logging:    cfg.Logging,
		Transfers:  cfg.Transfers,
		Auth:       cfg.Auth,
		Journal:    cfg.Journal,
		Metrics:    cfg.Metrics,
		Network:    cfg.Network,
	}

	if r.Auth.TokenDir == "" {
		r.Auth.TokenDir = DefaultTokenDir()
	}

	if r.Journal.Path == "" {
		r.Journal.Path = DefaultJournalPath()
	}

	var err error

	if r.PollInterval, err = time.ParseDuration(r.Transfers.PollInterval); err != nil {
		return nil, fmt.Errorf("transfers.poll_interval: %w", err)
	}

	if r.AuthTimeout, err = time.ParseDuration(r.Auth.Timeout); err != nil {
		return nil, fmt.Errorf("auth.timeout: %w", err)
	}

	if r.ConnectTimeout, err = time.ParseDuration(r.Network.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("network.connect_timeout: %w", err)
	}

	if r.DataTimeout, err = time.ParseDuration(r.Network.DataTimeout); err != nil {
		return nil, fmt.Errorf("network.data_timeout: %w", err)
	}

	return r, nil
}
