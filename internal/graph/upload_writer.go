package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// uploadChunkSize is the session chunk size (3.125 MiB, 10 alignment units).
const uploadChunkSize = 10 * chunkAlignment

// ErrUploadClosed is returned by writes after Close or CloseWithError.
var ErrUploadClosed = errors.New("graph: upload writer closed")

// UploadWriter streams a file of known size into the drive. Small files are
// buffered and sent with SimpleUpload on Close; larger files go through an
// upload session, one aligned chunk at a time.
type UploadWriter struct {
	c        *Client
	ctx      context.Context
	driveID  string
	parentID string
	name     string
	size     int64
	mtime    time.Time

	buf     bytes.Buffer
	session *UploadSession
	offset  int64
	written int64
	item    *Item
	closed  bool
}

// NewUploadWriter returns a writer for parentID/name. Exactly size bytes
// must be written before Close.
func (c *Client) NewUploadWriter(
	ctx context.Context, driveID, parentID, name string, size int64, mtime time.Time,
) *UploadWriter {
	return &UploadWriter{
		c:        c,
		ctx:      ctx,
		driveID:  driveID,
		parentID: parentID,
		name:     name,
		size:     size,
		mtime:    mtime,
	}
}

func (w *UploadWriter) chunked() bool {
	return w.size > SimpleUploadMaxSize
}

// Write buffers p and sends every complete chunk.
func (w *UploadWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrUploadClosed
	}

	if w.written+int64(len(p)) > w.size {
		return 0, fmt.Errorf("graph: upload of %q exceeds declared size %d", w.name, w.size)
	}

	w.buf.Write(p)
	w.written += int64(len(p))

	if !w.chunked() {
		return len(p), nil
	}

	for w.buf.Len() >= uploadChunkSize {
		if err := w.sendChunk(w.buf.Next(uploadChunkSize)); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

func (w *UploadWriter) sendChunk(chunk []byte) error {
	if w.session == nil {
		s, err := w.c.CreateUploadSession(w.ctx, w.driveID, w.parentID, w.name, w.size, w.mtime)
		if err != nil {
			return err
		}

		w.session = s
	}

	item, err := w.c.UploadChunk(w.ctx, w.session, chunk, w.offset, w.size)
	if err != nil {
		return err
	}

	w.offset += int64(len(chunk))

	if item != nil {
		w.item = item
	}

	return nil
}

// Close sends whatever remains and finishes the upload.
func (w *UploadWriter) Close() error {
	if w.closed {
		return ErrUploadClosed
	}

	if w.written != w.size {
		err := fmt.Errorf("graph: upload of %q short: wrote %d of %d bytes", w.name, w.written, w.size)
		_ = w.CloseWithError(err) //nolint:errcheck // reporting the short write

		return err
	}

	w.closed = true

	if !w.chunked() {
		item, err := w.c.SimpleUpload(w.ctx, w.driveID, w.parentID, w.name, bytes.NewReader(w.buf.Bytes()), w.size)
		if err != nil {
			return err
		}

		w.item = item

		return nil
	}

	if w.buf.Len() > 0 {
		if err := w.sendChunk(w.buf.Next(w.buf.Len())); err != nil {
			w.cancelSession()
			return err
		}
	}

	if w.item == nil {
		return fmt.Errorf("graph: upload session for %q ended without an item", w.name)
	}

	return nil
}

// CloseWithError abandons the upload and cancels any open session.
func (w *UploadWriter) CloseWithError(cause error) error {
	if w.closed {
		return nil
	}

	w.closed = true

	w.c.logger.Warn("abandoning upload",
		slog.String("name", w.name),
		slog.Int64("sent", w.offset),
		slog.String("cause", fmt.Sprint(cause)),
	)

	w.cancelSession()

	return nil
}

func (w *UploadWriter) cancelSession() {
	if w.session == nil {
		return
	}

	// The upload context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 10*time.Second)
	defer cancel()

	if err := w.c.CancelUploadSession(ctx, w.session); err != nil {
		w.c.logger.Warn("cancel upload session failed", slog.String("error", err.Error()))
	}

	w.session = nil
}

// Item returns the uploaded item after a successful Close.
func (w *UploadWriter) Item() *Item {
	return w.item
}
