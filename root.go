package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cloudtree/cloudtree/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProvider   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagNoJournal  bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// logFile is the open [logging] file, closed by main after the command runs.
var logFile io.Closer

// skipConfigCommands lists commands that must work before a provider is
// configured. Matched on CommandPath() so a future subcommand with the same
// leaf name is not skipped by accident.
var skipConfigCommands = map[string]bool{
	"cloudtree config":      true,
	"cloudtree config init": true,
	"cloudtree config add":  true,
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cloudtree",
		Short:   "Provider-agnostic cloud storage CLI",
		Long:    "Browse, transfer and manage files on OneDrive or any vfs-backed object store.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVarP(&flagProvider, "provider", "p", "",
		"provider name from the config, or an objstore URI such as file:///srv/data/")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagNoJournal, "no-journal", false, "do not record transfers in the journal")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newFindCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newCpCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newTransfersCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (defaults, file, environment, flags) and stores it in resolvedCfg.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Provider:   flagProvider,
	}

	if cmd.Flags().Changed("no-journal") {
		enabled := !flagNoJournal
		cli.Journal = &enabled
	}

	env := config.ReadEnvOverrides(bootstrapLogger())

	resolved, err := config.Resolve(env, cli, bootstrapLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// bootstrapLogger is used before the config is known. It only honours the
// CLI flags.
func bootstrapLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the command logger. The [logging] section provides
// the baseline; --verbose and --quiet override the level because CLI flags
// always win.
func buildLogger() *slog.Logger {
	if resolvedCfg == nil {
		return bootstrapLogger()
	}

	level := parseLevel(resolvedCfg.Logging.Level)

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr

	if path := resolvedCfg.Logging.File; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", path, err)
		} else {
			if logFile == nil {
				logFile = f
			}

			w = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(resolvedCfg.Logging.Format, w) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// useJSONLogs resolves the "auto" format: text for a terminal, JSON when
// the output is a file or pipe.
func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
