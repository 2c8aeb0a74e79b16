package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudtree/cloudtree/internal/auth"
	"github.com/cloudtree/cloudtree/internal/config"
	"github.com/cloudtree/cloudtree/internal/graph"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize access to the selected provider",
		Long: `Authorize access to the selected provider.

A persisted token the provider still accepts is reused. Otherwise the
authorization code flow opens the consent page in a browser and waits for
the redirect on a local port.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("force", false, "always run the authorization flow, even with a usable token")
	cmd.Flags().Bool("no-browser", false, "only print the consent URL")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token of the selected provider",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user and drive info",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

// requireOAuth rejects auth commands for providers without a login.
func requireOAuth() error {
	if resolvedCfg.Provider.Kind != config.KindOneDrive {
		return fmt.Errorf("provider %s (%s) does not use a login", resolvedCfg.Name, resolvedCfg.Provider.Kind)
	}

	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if err := requireOAuth(); err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	noBrowser, _ := cmd.Flags().GetBool("no-browser")

	logger := buildLogger()

	ctx, stop := shutdownContext(context.Background(), logger)
	defer stop()

	cfg := authConfig(resolvedCfg, logger)
	if noBrowser {
		cfg.OpenURL = func(string) error { return nil }
	}

	a, err := auth.New(cfg)
	if err != nil {
		return err
	}

	logger.Info("login started", "provider", resolvedCfg.Name)

	if force {
		err = a.Acquire(ctx)
	} else {
		err = a.Authorise(ctx)
	}

	if err != nil {
		return err
	}

	logger.Info("login successful", "provider", resolvedCfg.Name)
	statusf("Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	if err := requireOAuth(); err != nil {
		return err
	}

	logger := buildLogger()

	a, err := newAuthoriser(resolvedCfg, logger)
	if err != nil {
		return err
	}

	if err := a.Logout(); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Provider string        `json:"provider"`
	Kind     string        `json:"kind"`
	URI      string        `json:"uri,omitempty"`
	User     *whoamiUser   `json:"user,omitempty"`
	Drives   []whoamiDrive `json:"drives,omitempty"`
}

type whoamiUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type whoamiDrive struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DriveType  string `json:"drive_type"`
	QuotaUsed  int64  `json:"quota_used"`
	QuotaTotal int64  `json:"quota_total"`
	Selected   bool   `json:"selected,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		out := whoamiOutput{
			Provider: ws.cfg.Name,
			Kind:     ws.cfg.Provider.Kind,
			URI:      ws.cfg.Provider.URI,
		}

		if ws.onedrive != nil {
			acct, err := ws.onedrive.Client().Account(ctx, ws.cfg.Provider.DriveID)
			if err != nil {
				return fmt.Errorf("fetching account: %w", err)
			}

			out.User = &whoamiUser{ID: acct.User.ID, DisplayName: acct.User.DisplayName, Email: acct.User.Email}
			out.Drives = toWhoamiDrives(acct)
		}

		if flagJSON {
			return printJSON(out)
		}

		printWhoamiText(out)

		return nil
	})
}

func toWhoamiDrives(acct *graph.Account) []whoamiDrive {
	out := make([]whoamiDrive, 0, len(acct.Drives))
	for _, d := range acct.Drives {
		out = append(out, whoamiDrive{
			ID:         d.ID,
			Name:       d.Name,
			DriveType:  d.DriveType,
			QuotaUsed:  d.QuotaUsed,
			QuotaTotal: d.QuotaTotal,
			Selected:   d.ID == acct.Selected,
		})
	}

	return out
}

func printWhoamiText(out whoamiOutput) {
	fmt.Printf("Provider: %s (%s)\n", out.Provider, out.Kind)

	if out.URI != "" {
		fmt.Printf("URI:      %s\n", out.URI)
	}

	if out.User != nil {
		fmt.Printf("User:     %s (%s)\n", out.User.DisplayName, out.User.Email)
		fmt.Printf("ID:       %s\n", out.User.ID)
	}

	for _, d := range out.Drives {
		marker := ""
		if d.Selected {
			marker = " *"
		}

		fmt.Printf("\nDrive: %s (%s)%s\n", d.Name, d.DriveType, marker)
		fmt.Printf("  ID:    %s\n", d.ID)
		fmt.Printf("  Quota: %s / %s\n", formatSize(d.QuotaUsed), formatSize(d.QuotaTotal))
	}
}
