// Package testutil provides shared helpers for the end-to-end tests. It
// depends only on the standard library so the e2e package, which exercises
// the built binary, stays independent of internal/.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowedProvidersEnv lists the configured providers e2e runs may modify.
const AllowedProvidersEnv = "CLOUDTREE_ALLOWED_TEST_PROVIDERS"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless provider is listed in
// CLOUDTREE_ALLOWED_TEST_PROVIDERS. URI selectors point at throwaway
// object stores and are always allowed.
func ValidateAllowlist(provider string) {
	if strings.Contains(provider, "://") {
		return
	}

	allowlist := os.Getenv(AllowedProvidersEnv)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", AllowedProvidersEnv)
		fmt.Fprintf(os.Stderr, "Example: %s=e2e-onedrive\n", AllowedProvidersEnv)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == provider {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: provider %q is not in %s=%q\n", provider, AllowedProvidersEnv, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// Isolate points HOME and the XDG directories at fresh directories under
// root and clears the cloudtree environment overrides, so a run can never
// read or write production config, tokens or journal.
func Isolate(root string) error {
	for _, v := range []string{"CLOUDTREE_CONFIG", "CLOUDTREE_PROVIDER", "CLOUDTREE_TOKEN_DIR"} {
		os.Unsetenv(v)
	}

	for env, sub := range map[string]string{
		"HOME":            "home",
		"XDG_CONFIG_HOME": "config",
		"XDG_DATA_HOME":   "data",
		"XDG_CACHE_HOME":  "cache",
	} {
		dir := filepath.Join(root, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}

		os.Setenv(env, dir)
	}

	return nil
}

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot read %s: %v\n", src, err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating %s: %v\n", filepath.Dir(dst), err)
		os.Exit(1)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", dst, err)
		os.Exit(1)
	}
}
