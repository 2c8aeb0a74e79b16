package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPollInterval    = 100 * time.Millisecond
	maxPollInterval    = time.Minute
	minConcurrency     = 1
	maxConcurrency     = 32
	maxPort            = 65535
	minAuthTimeout     = 10 * time.Second
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	providerNameMaxLen = 64
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
	validKinds      = []string{KindOneDrive, KindObjStore}
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		errs = append(errs, validateProvider(name, cfg.Providers[name])...)
	}

	if cfg.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider: no [provider.%s] section", cfg.DefaultProvider))
		}
	}

	return errors.Join(errs...)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.Level) {
		errs = append(errs, fmt.Errorf("logging.level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.Level))
	}

	if !slices.Contains(validLogFormats, l.Format) {
		errs = append(errs, fmt.Errorf("logging.format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.Format))
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if err := validateDuration("transfers.poll_interval", t.PollInterval, minPollInterval, maxPollInterval); err != nil {
		errs = append(errs, err)
	}

	if t.MaxConcurrency < minConcurrency || t.MaxConcurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("transfers.max_concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, t.MaxConcurrency))
	}

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.CallbackPort < 0 || a.CallbackPort > maxPort {
		errs = append(errs, fmt.Errorf("auth.callback_port: must be between 0 and %d, got %d",
			maxPort, a.CallbackPort))
	}

	if err := validateDuration("auth.timeout", a.Timeout, minAuthTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDuration("network.connect_timeout", n.ConnectTimeout, minConnectTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("network.data_timeout", n.DataTimeout, minDataTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// validateDuration parses s and checks it against lo and, when non-zero, hi.
func validateDuration(field, s string, lo, hi time.Duration) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}

	if d < lo {
		return fmt.Errorf("%s: must be at least %s, got %s", field, lo, d)
	}

	if hi > 0 && d > hi {
		return fmt.Errorf("%s: must be at most %s, got %s", field, hi, d)
	}

	return nil
}

func validateProvider(name string, p Provider) []error {
	var errs []error

	prefix := "provider." + name

	if name == "" || len(name) > providerNameMaxLen || strings.ContainsAny(name, "/\\: ") {
		errs = append(errs, fmt.Errorf("%s: invalid provider name", prefix))
	}

	switch p.Kind {
	case KindOneDrive:
		if p.ClientID == "" {
			errs = append(errs, fmt.Errorf("%s.client_id: required for kind %q", prefix, p.Kind))
		}

		if p.URI != "" {
			errs = append(errs, fmt.Errorf("%s.uri: not used by kind %q", prefix, p.Kind))
		}

		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s.base_url: must be an absolute URL, got %q", prefix, p.BaseURL))
			}
		}
	case KindObjStore:
		if u, err := url.Parse(p.URI); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("%s.uri: must be a vfs URI such as mem://vol/ or file:///path/, got %q",
				prefix, p.URI))
		}

		if p.ClientID != "" || p.DriveID != "" || p.Tenant != "" {
			errs = append(errs, fmt.Errorf("%s: client_id, tenant and drive_id are not used by kind %q", prefix, p.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.kind: must be one of %s, got %q",
			prefix, strings.Join(validKinds, ", "), p.Kind))
	}

	return errs
}
