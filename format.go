package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/cloudtree/cloudtree/internal/transfer"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// progressPrinter renders transfer events. In live mode each job redraws a
// single line with a carriage return; otherwise only the final state of
// each job is printed.
type progressPrinter struct {
	w    io.Writer
	live bool

	mu sync.Mutex
}

// newProgressPrinter returns nil in quiet mode. Live redraws need a
// terminal and a single job at a time.
func newProgressPrinter(w io.Writer, jobs int) *progressPrinter {
	if flagQuiet {
		return nil
	}

	live := false
	if f, ok := w.(*os.File); ok && jobs == 1 {
		live = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return &progressPrinter{w: w, live: live}
}

// Listener returns the transfer listener, or nil for a nil printer.
func (p *progressPrinter) Listener() transfer.Listener {
	if p == nil {
		return nil
	}

	return p.handle
}

func (p *progressPrinter) handle(e transfer.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := e.Source.Name()

	switch {
	case e.State == transfer.InProgress && p.live:
		fmt.Fprintf(p.w, "\r%s %3.0f%% %s", name, e.Progress*100, progressBytes(e))
	case e.State == transfer.Completed:
		p.endLine()
		fmt.Fprintf(p.w, "%s %s: %s\n", e.Direction, name, formatSize(e.Total))
	case e.State == transfer.Failed || e.State == transfer.Cancelled:
		p.endLine()
		fmt.Fprintf(p.w, "%s %s: %s", e.Direction, name, strings.ToLower(e.State.String()))

		if e.Err != nil {
			fmt.Fprintf(p.w, " (%v)", e.Err)
		}

		fmt.Fprintln(p.w)
	}
}

func (p *progressPrinter) endLine() {
	if p.live {
		fmt.Fprint(p.w, "\r\033[K")
	}
}

func progressBytes(e transfer.Event) string {
	if e.Total <= 0 {
		return formatSize(e.Bytes)
	}

	return formatSize(e.Bytes) + "/" + formatSize(e.Total)
}
