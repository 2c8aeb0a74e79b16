package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated
// summary to w. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for provider %q\n", r.Name)
	ew.printf("# Config file: %s\n\n", r.ConfigPath)

	renderProviderSection(ew, r)

	ew.printf("[logging]\n")
	ew.printf("  level  = %q\n", r.Logging.Level)
	ew.printf("  format = %q\n", r.Logging.Format)

	if r.Logging.File != "" {
		ew.printf("  file   = %q\n", r.Logging.File)
	}

	ew.printf("\n[transfers]\n")
	ew.printf("  poll_interval   = %q\n", r.Transfers.PollInterval)
	ew.printf("  watch_files     = %t\n", r.Transfers.WatchFiles)
	ew.printf("  max_concurrency = %d\n", r.Transfers.MaxConcurrency)

	ew.printf("\n[auth]\n")
	ew.printf("  token_dir     = %q\n", r.Auth.TokenDir)
	ew.printf("  callback_port = %d\n", r.Auth.CallbackPort)
	ew.printf("  timeout       = %q\n", r.Auth.Timeout)

	ew.printf("\n[journal]\n")
	ew.printf("  enabled = %t\n", r.Journal.Enabled)
	ew.printf("  path    = %q\n", r.Journal.Path)

	ew.printf("\n[metrics]\n")
	ew.printf("  textfile = %q\n", r.Metrics.Textfile)

	ew.printf("\n[network]\n")
	ew.printf("  connect_timeout = %q\n", r.Network.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", r.Network.DataTimeout)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderProviderSection(ew *errWriter, r *Resolved) {
	p := r.Provider

	ew.printf("[provider.%s]\n", r.Name)
	ew.printf("  kind = %q\n", p.Kind)

	optional := []struct{ key, value string }{
		{"client_id", p.ClientID},
		{"tenant", p.Tenant},
		{"drive_id", p.DriveID},
		{"base_url", p.BaseURL},
		{"uri", p.URI},
	}

	for _, kv := range optional {
		if kv.value != "" {
			ew.printf("  %-9s = %q\n", kv.key, kv.value)
		}
	}

	ew.printf("\n")
}
