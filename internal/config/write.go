package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is the permission mode for config files. Owner
// read/write only, since provider sections carry client IDs.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o700

// ErrConfigExists is returned by CreateDefault when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the config file written by 'config init'. Every global
// setting is present as a commented-out default.
const configTemplate = `# cloudtree configuration

# Provider used when --provider is not given.
# default_provider = ""

[logging]
# level = "info"     # debug, info, warn, error
# format = "auto"    # auto, text, json
# file = ""

[transfers]
# poll_interval = "1s"
# watch_files = false
# max_concurrency = 4

[auth]
# token_dir = ""     # default: platform data dir + /tokens
# callback_port = 0  # 0 picks a free port
# timeout = "5m"

[journal]
# enabled = true
# path = ""

[metrics]
# textfile = ""

[network]
# connect_timeout = "10s"
# data_timeout = "60s"

# ── Providers ──
# [provider.personal]
# kind = "onedrive"
# client_id = "<your Azure app client ID>"
#
# [provider.scratch]
# kind = "objstore"
# uri = "file:///var/tmp/cloudtree/"
`

// CreateDefault writes the commented template to path. It refuses to
// overwrite an existing file.
func CreateDefault(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// providerSectionText renders one [provider.<name>] section.
func providerSectionText(name string, p Provider) (string, error) {
	var buf bytes.Buffer

	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return "", fmt.Errorf("encoding provider %s: %w", name, err)
	}

	return fmt.Sprintf("\n[provider.%s]\n%s", name, buf.String()), nil
}

// AppendProvider appends a provider section to the config at path,
// creating the file from the template if needed. The result is validated
// before it replaces the old file.
func AppendProvider(path, name string, p Provider, logger *slog.Logger) error {
	data, err := os.ReadFile(path)

	switch {
	case errors.Is(err, os.ErrNotExist):
		data = []byte(configTemplate)
	case err != nil:
		return fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if _, ok := cfg.Providers[name]; ok {
		return fmt.Errorf("provider %q already configured in %s", name, path)
	}

	section, err := providerSectionText(name, p)
	if err != nil {
		return err
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += section

	check := DefaultConfig()
	if _, err := toml.Decode(content, check); err != nil {
		return fmt.Errorf("new config does not parse: %w", err)
	}

	if err := Validate(check); err != nil {
		return fmt.Errorf("new config is invalid: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("adding provider to config",
		slog.String("path", path),
		slog.String("provider", name),
		slog.String("kind", p.Kind),
	)

	return atomicWriteFile(path, []byte(content))
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it into place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
