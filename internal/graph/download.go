package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrNoDownloadURL is returned when a drive item has no pre-authenticated download URL.
// This happens for folders and OneNote packages.
var ErrNoDownloadURL = errors.New("graph: item has no download URL")

// OpenDownload returns a stream of the item's content. It fetches the item
// to obtain the pre-authenticated download URL, then opens that URL
// directly. The caller closes the stream.
func (c *Client) OpenDownload(ctx context.Context, driveID, itemID string) (io.ReadCloser, error) {
	c.logger.Info("opening download",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	item, err := c.GetItem(ctx, driveID, itemID)
	if err != nil {
		return nil, fmt.Errorf("graph: getting item for download: %w", err)
	}

	if item.DownloadURL == "" {
		c.logger.Warn("item has no download URL",
			slog.String("item_id", itemID),
			slog.Bool("is_folder", item.IsFolder),
			slog.Bool("is_package", item.IsPackage),
		)

		return nil, ErrNoDownloadURL
	}

	return c.OpenURL(ctx, item.DownloadURL)
}

// OpenURL opens a pre-authenticated URL. Only the request/response cycle is
// retried; a stream that fails midway is the caller's to handle.
func (c *Client) OpenURL(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	resp, err := c.doPreAuth(ctx, "download", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating download request: %w", reqErr)
		}

		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// Download streams the content of a drive item to w and returns the number
// of bytes written.
func (c *Client) Download(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error) {
	body, err := c.OpenDownload(ctx, driveID, itemID)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.Copy(w, body)
	if err != nil {
		c.logger.Error("streaming download content failed",
			slog.String("error", err.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("graph: streaming download content: %w", err)
	}

	c.logger.Debug("download complete",
		slog.String("item_id", itemID),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}
