package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/graph"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <name> [folder]",
		Short: "Find files and folders by exact name",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runFind,
	}

	cmd.Flags().BoolP("ignore-case", "i", false, "compare names case-insensitively")
	cmd.Flags().BoolP("recursive", "r", false, "search subfolders too")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}

	cmd.Flags().BoolP("parents", "p", false, "create missing parent folders, no error if the folder exists")

	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder.

Folder deletion is recursive: all contents are deleted.
Use --recursive (-r) to confirm intent when deleting folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newCpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp <path> <dest-folder>",
		Short: "Copy a file or folder into another folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runCp,
	}

	cmd.Flags().Bool("overwrite", false, "replace an existing item of the same name")

	return cmd
}

func newMvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <path> <dest-folder>",
		Short: "Move a file or folder into another folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}

	cmd.Flags().Bool("overwrite", false, "replace an existing item of the same name")

	return cmd
}

func newRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}

	cmd.Flags().Bool("overwrite", false, "replace an existing item of the same name")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>... [remote-folder]",
		Short: "Upload files",
		Long: `Upload one or more local files into a remote folder.

With a single argument the file is uploaded to the root folder. Files are
uploaded concurrently, bounded by [transfers] max_concurrency.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}

	cmd.Flags().Bool("overwrite", false, "replace existing files of the same name")
	cmd.Flags().String("name", "", "remote name for a single uploaded file")

	return cmd
}

// infoJSON is the JSON schema for one item in ls, stat, find and put output.
type infoJSON struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	ID       string `json:"id"`
	Size     int64  `json:"size"`
	IsFolder bool   `json:"is_folder"`
	Modified string `json:"modified,omitempty"`
}

func toInfoJSON(in cloud.Info) infoJSON {
	out := infoJSON{
		Name:     in.Name,
		Path:     in.Path,
		ID:       in.ID,
		Size:     in.Size,
		IsFolder: in.IsFolder,
	}

	if !in.Modified.IsZero() {
		out.Modified = in.Modified.UTC().Format(time.RFC3339)
	}

	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// sortInfos orders folders first, then by name.
func sortInfos(items []cloud.Info) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}

		return items[i].Name < items[j].Name
	})
}

func printInfos(items []cloud.Info, fullPath bool) error {
	sortInfos(items)

	if flagJSON {
		out := make([]infoJSON, 0, len(items))
		for _, it := range items {
			out = append(out, toInfoJSON(it))
		}

		return printJSON(out)
	}

	rows := make([][]string, 0, len(items))

	for _, it := range items {
		name := it.Name
		if fullPath {
			name = it.Path
		}

		size := formatSize(it.Size)
		if it.IsFolder {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(it.Modified)})
	}

	printTable(os.Stdout, []string{"NAME", "SIZE", "MODIFIED"}, rows)

	return nil
}

// remoteArg normalises a user supplied remote path to an absolute one.
func remoteArg(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func runLs(cmd *cobra.Command, args []string) error {
	p := "/"
	if len(args) > 0 {
		p = remoteArg(args[0])
	}

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		items, err := ws.remote.List(ctx, p)
		if err != nil {
			return err
		}

		return printInfos(items, false)
	})
}

func runStat(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		info, err := ws.remote.Stat(ctx, remoteArg(args[0]))
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(toInfoJSON(info))
		}

		kind := "file"
		if info.IsFolder {
			kind = "folder"
		}

		fmt.Printf("Name:     %s\n", info.Name)
		fmt.Printf("Path:     %s\n", info.Path)
		fmt.Printf("ID:       %s\n", info.ID)
		fmt.Printf("Type:     %s\n", kind)
		fmt.Printf("Size:     %s (%d bytes)\n", formatSize(info.Size), info.Size)
		fmt.Printf("Modified: %s\n", formatTime(info.Modified))

		return nil
	})
}

func runFind(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) > 1 {
		dir = remoteArg(args[1])
	}

	ignoreCase, _ := cmd.Flags().GetBool("ignore-case")
	recursive, _ := cmd.Flags().GetBool("recursive")

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		found, err := ws.remote.Find(ctx, dir, args[0], cloud.SearchOptions{
			IgnoreCase:  ignoreCase,
			Recursive:   recursive,
			Concurrency: ws.cfg.Transfers.MaxConcurrency,
		})
		if err != nil {
			return err
		}

		return printInfos(found, true)
	})
}

func runMkdir(cmd *cobra.Command, args []string) error {
	parents, _ := cmd.Flags().GetBool("parents")
	p := remoteArg(args[0])

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		info, err := ws.remote.Mkdir(ctx, p, parents)
		if err != nil {
			return err
		}

		statusf("Created %s\n", info.Path)

		return nil
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	recursive, _ := cmd.Flags().GetBool("recursive")
	p := remoteArg(args[0])

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		info, err := ws.remote.Stat(ctx, p)
		if err != nil {
			return err
		}

		if info.IsFolder && !recursive {
			return fmt.Errorf("%s is a folder, use --recursive to delete it and its contents", p)
		}

		if err := ws.remote.Remove(ctx, p); err != nil {
			return err
		}

		statusf("Deleted %s\n", p)

		return nil
	})
}

func runCp(cmd *cobra.Command, args []string) error {
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	src, dest := remoteArg(args[0]), remoteArg(args[1])

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		info, err := ws.remote.Copy(ctx, src, dest, overwrite)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(toInfoJSON(info))
		}

		statusf("Copied %s to %s\n", src, info.Path)

		return nil
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	src, dest := remoteArg(args[0]), remoteArg(args[1])

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		if err := ws.remote.Move(ctx, src, dest, overwrite); err != nil {
			return err
		}

		statusf("Moved %s to %s\n", src, dest)

		return nil
	})
}

func runRename(cmd *cobra.Command, args []string) error {
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	p := remoteArg(args[0])

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		if err := ws.remote.Rename(ctx, p, args[1], overwrite); err != nil {
			return err
		}

		statusf("Renamed %s to %s\n", p, args[1])

		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	src := remoteArg(args[0])

	local := path.Base(src)
	if len(args) > 1 {
		local = args[1]
	}

	if st, err := os.Stat(local); err == nil && st.IsDir() {
		local = filepath.Join(local, path.Base(src))
	}

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		progress := newProgressPrinter(os.Stderr, 1)

		return ws.remote.Get(ctx, src, local, progress.Listener())
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	name, _ := cmd.Flags().GetString("name")

	locals, dest := args, "/"
	if len(args) > 1 {
		locals, dest = args[:len(args)-1], remoteArg(args[len(args)-1])
	}

	if name != "" && len(locals) > 1 {
		return errors.New("--name needs exactly one local file")
	}

	for _, l := range locals {
		st, err := os.Stat(l)
		if err != nil {
			return err
		}

		if st.IsDir() {
			return fmt.Errorf("%s is a directory, only files can be uploaded", l)
		}
	}

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		progress := newProgressPrinter(os.Stderr, len(locals))
		uploaded := make([]cloud.Info, len(locals))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ws.cfg.Transfers.MaxConcurrency)

		for i, l := range locals {
			g.Go(func() error {
				info, err := ws.remote.Put(gctx, putRequest{
					LocalPath: l,
					Dir:       dest,
					Name:      name,
					Overwrite: overwrite,
					Listener:  progress.Listener(),
				})
				if err != nil {
					return fmt.Errorf("%s: %w", l, err)
				}

				uploaded[i] = info

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if flagJSON {
			out := make([]infoJSON, 0, len(uploaded))
			for _, info := range uploaded {
				out = append(out, toInfoJSON(info))
			}

			return printJSON(out)
		}

		return nil
	})
}

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <path>",
		Short: "Print a download link for a file",
		Long: `Print a time-limited direct download link for a file.

With --share, OneDrive providers create a browser sharing link instead,
which can outlive the direct link.`,
		Args: cobra.ExactArgs(1),
		RunE: runLink,
	}

	cmd.Flags().Bool("share", false, "create a sharing link (OneDrive only)")
	cmd.Flags().String("scope", graph.ScopeAnonymous, "sharing link scope: anonymous or organization")
	cmd.Flags().Duration("expires", 0, "sharing link lifetime, 0 for no expiry")

	return cmd
}

// linkJSON is the JSON schema for `link --json`.
type linkJSON struct {
	URL     string `json:"url"`
	Expires string `json:"expires,omitempty"`
}

func runLink(cmd *cobra.Command, args []string) error {
	share, _ := cmd.Flags().GetBool("share")
	scope, _ := cmd.Flags().GetString("scope")
	ttl, _ := cmd.Flags().GetDuration("expires")
	p := remoteArg(args[0])

	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		var link cloud.Link

		if share {
			l, err := shareLink(ctx, ws, p, scope, ttl)
			if err != nil {
				return err
			}

			link = l
		} else {
			l, err := ws.remote.Link(ctx, p)
			if errors.Is(err, csperr.ErrUnavailable) {
				return fmt.Errorf("provider %s has no direct links for %s", ws.cfg.Name, p)
			}

			if err != nil {
				return err
			}

			link = l
		}

		out := linkJSON{URL: link.URL}
		if !link.Expires.IsZero() {
			out.Expires = link.Expires.UTC().Format(time.RFC3339)
		}

		if flagJSON {
			return printJSON(out)
		}

		fmt.Println(out.URL)

		if out.Expires != "" {
			statusf("Expires %s\n", out.Expires)
		}

		return nil
	})
}

func shareLink(ctx context.Context, ws *workspace, p, scope string, ttl time.Duration) (cloud.Link, error) {
	if ws.onedrive == nil {
		return cloud.Link{}, fmt.Errorf("provider %s does not support sharing links", ws.cfg.Name)
	}

	it, err := ws.onedrive.FetchMetadata(ctx, cloud.Ref{Path: p})
	if err != nil {
		return cloud.Link{}, err
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	sl, err := ws.onedrive.ShareLink(ctx, it, scope, expires)
	if err != nil {
		return cloud.Link{}, err
	}

	return cloud.Link{URL: sl.WebURL, Expires: sl.Expires}, nil
}
