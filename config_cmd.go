package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudtree/cloudtree/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigAddCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

func newConfigAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a provider section to the config file",
		Example: `  cloudtree config add personal --kind onedrive --client-id 00000000-0000-0000-0000-000000000000
  cloudtree config add scratch --kind objstore --uri file:///var/tmp/cloudtree/`,
		Args: cobra.ExactArgs(1),
		RunE: runConfigAdd,
	}

	cmd.Flags().String("kind", "", "provider kind: onedrive or objstore")
	cmd.Flags().String("client-id", "", "OneDrive: Azure application client ID")
	cmd.Flags().String("tenant", "", "OneDrive: tenant, default common")
	cmd.Flags().String("drive-id", "", "OneDrive: drive ID, default the user's drive")
	cmd.Flags().String("base-url", "", "OneDrive: Graph endpoint override")
	cmd.Flags().String("uri", "", "objstore: root URI")

	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

// configPath is the file the config subcommands write to.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	if env := config.ReadEnvOverrides(nil); env.ConfigPath != "" {
		return env.ConfigPath
	}

	return config.DefaultConfigPath()
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		return printJSON(resolvedCfg)
	}

	return config.RenderEffective(resolvedCfg, os.Stdout)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := configPath()

	if err := config.CreateDefault(path, buildLogger()); err != nil {
		return err
	}

	statusf("Wrote %s\n", path)

	return nil
}

func runConfigAdd(cmd *cobra.Command, args []string) error {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}

	p := config.Provider{
		Kind:     get("kind"),
		ClientID: get("client-id"),
		Tenant:   get("tenant"),
		DriveID:  get("drive-id"),
		BaseURL:  get("base-url"),
		URI:      get("uri"),
	}

	path := configPath()

	if err := config.AppendProvider(path, args[0], p, buildLogger()); err != nil {
		return err
	}

	statusf("Added [provider.%s] to %s\n", args[0], path)

	if p.Kind == config.KindOneDrive {
		fmt.Fprintf(os.Stderr, "Run 'cloudtree login --provider %s' to authorize it.\n", args[0])
	}

	return nil
}
