package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudtree/cloudtree/internal/journal"
)

const defaultTransferLimit = 20

func newTransfersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Show recently finished transfers from the journal",
		Args:  cobra.NoArgs,
		RunE:  runTransfers,
	}

	cmd.Flags().IntP("limit", "n", defaultTransferLimit, "number of entries to show")
	cmd.Flags().Duration("prune", 0, "delete entries older than this age instead of listing")

	return cmd
}

// transferJSON is the JSON schema for one `transfers --json` entry.
type transferJSON struct {
	JobID       string `json:"job_id"`
	Direction   string `json:"direction"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	State       string `json:"state"`
	Bytes       int64  `json:"bytes"`
	Total       int64  `json:"total"`
	Error       string `json:"error,omitempty"`
	FinishedAt  string `json:"finished_at"`
}

func runTransfers(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	prune, _ := cmd.Flags().GetDuration("prune")

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		if ws.journal == nil {
			return errors.New("the transfer journal is disabled ([journal] enabled = false or --no-journal)")
		}

		if prune > 0 {
			n, err := ws.journal.Prune(ctx, time.Now().Add(-prune))
			if err != nil {
				return err
			}

			statusf("Pruned %d entries\n", n)

			return nil
		}

		entries, err := ws.journal.Recent(ctx, limit)
		if err != nil {
			return err
		}

		return printTransfers(entries)
	})
}

func printTransfers(entries []journal.Entry) error {
	if flagJSON {
		out := make([]transferJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, transferJSON{
				JobID:       e.JobID,
				Direction:   e.Direction,
				Source:      e.Source,
				Destination: e.Destination,
				State:       e.State,
				Bytes:       e.Bytes,
				Total:       e.Total,
				Error:       e.Error,
				FinishedAt:  e.FinishedAt.UTC().Format(time.RFC3339),
			})
		}

		return printJSON(out)
	}

	if len(entries) == 0 {
		statusf("No transfers recorded.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.FinishedAt),
			e.Direction,
			e.State,
			formatSize(e.Bytes),
			e.Source + " -> " + e.Destination,
		})
	}

	printTable(os.Stdout, []string{"FINISHED", "DIRECTION", "STATE", "BYTES", "ROUTE"}, rows)

	return nil
}
