package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// SimpleUploadMaxSize is the largest file sent with a single PUT (4 MB).
// Larger files use resumable upload sessions.
const SimpleUploadMaxSize = 4 * 1024 * 1024

// ErrRangeNotSatisfiable is returned by UploadChunk on HTTP 416; the
// session's accepted ranges can be read with QueryUploadSession.
var ErrRangeNotSatisfiable = errors.New("graph: upload range not satisfiable")

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string          `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
	FileSystemInfo   *fileSystemInfo `json:"fileSystemInfo,omitempty"`
}

// fileSystemInfo preserves the local modification time on upload.
type fileSystemInfo struct {
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

type uploadSessionResponse struct {
	UploadURL          string   `json:"uploadUrl"`
	ExpirationDateTime string   `json:"expirationDateTime"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

func childURL(driveID, parentID, name string) string {
	return itemURL(driveID, parentID) + ":/" + url.PathEscape(name) + ":"
}

// SimpleUpload uploads up to SimpleUploadMaxSize bytes with a single PUT,
// replacing any existing file of the same name.
func (c *Client) SimpleUpload(
	ctx context.Context, driveID, parentID, name string, r io.Reader, size int64,
) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	resp, err := c.doRawUpload(ctx, http.MethodPut, childURL(driveID, parentID, name)+"/content", r, size)
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "simple upload")
}

// CreateUploadSession creates a resumable upload session for a file.
// A non-zero mtime is sent as fileSystemInfo.
func (c *Client) CreateUploadSession(
	ctx context.Context, driveID, parentID, name string, size int64, mtime time.Time,
) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	item := uploadSessionItem{ConflictBehavior: ConflictReplace}
	if !mtime.IsZero() {
		item.FileSystemInfo = &fileSystemInfo{
			LastModifiedDateTime: mtime.UTC().Format(time.RFC3339),
		}
	}

	body, err := json.Marshal(createUploadSessionRequest{Item: item})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, childURL(driveID, parentID, name)+"/createUploadSession", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	usr, err := c.decodeSession(resp)
	if err != nil {
		return nil, err
	}

	return &UploadSession{UploadURL: usr.UploadURL, ExpirationTime: c.parseExpiry(usr.ExpirationDateTime)}, nil
}

// UploadChunk uploads one chunk to a session. It returns the finished Item
// on the final chunk and nil for intermediate chunks.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk []byte, offset, total int64,
) (*Item, error) {
	length := int64(len(chunk))

	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)

	resp, err := c.doPreAuth(ctx, "upload chunk", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating chunk upload request: %w", reqErr)
		}

		req.Header.Set("Content-Range", contentRange)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = length

		return req, nil
	})
	if err != nil {
		var ge *GraphError
		if errors.As(err, &ge) && ge.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			c.logger.Warn("upload chunk returned 416 Range Not Satisfiable")

			return nil, fmt.Errorf("%w: %w", ErrRangeNotSatisfiable, err)
		}

		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, fmt.Errorf("graph: draining chunk response body: %w", drainErr)
		}

		return nil, nil
	}

	var dir driveItemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
		return nil, fmt.Errorf("graph: decoding final chunk response: %w", decErr)
	}

	item := dir.toItem(c.logger)

	c.logger.Debug("upload session complete", slog.String("item_id", item.ID))

	return &item, nil
}

// CancelUploadSession cancels an in-progress upload session.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	c.logger.Info("canceling upload session")

	resp, err := c.doPreAuth(ctx, "cancel upload session", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, session.UploadURL, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating cancel session request: %w", reqErr)
		}

		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("graph: draining cancel session response body: %w", drainErr)
	}

	return nil
}

// QueryUploadSession reports which byte ranges the session still expects.
func (c *Client) QueryUploadSession(ctx context.Context, session *UploadSession) (*UploadSessionStatus, error) {
	resp, err := c.doPreAuth(ctx, "query upload session", func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, session.UploadURL, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating query session request: %w", reqErr)
		}

		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	usr, err := c.decodeSession(resp)
	if err != nil {
		return nil, err
	}

	uploadURL := usr.UploadURL
	if uploadURL == "" {
		uploadURL = session.UploadURL
	}

	return &UploadSessionStatus{
		UploadURL:          uploadURL,
		ExpirationTime:     c.parseExpiry(usr.ExpirationDateTime),
		NextExpectedRanges: usr.NextExpectedRanges,
	}, nil
}

// doRawUpload sends an authenticated octet-stream body. It is not retried:
// the reader cannot be replayed.
func (c *Client) doRawUpload(
	ctx context.Context, method, path string, body io.Reader, size int64,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating raw upload request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token for upload: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("raw upload request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("graph: raw upload request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		resp.Body.Close()

		return nil, &GraphError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return resp, nil
}

func (c *Client) decodeSession(resp *http.Response) (*uploadSessionResponse, error) {
	var usr uploadSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&usr); err != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", err)
	}

	return &usr, nil
}

func (c *Client) parseExpiry(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)
	}

	return t
}
