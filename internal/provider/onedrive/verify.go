package onedrive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudtree/cloudtree/internal/graph"
)

// ErrHashMismatch reports content whose QuickXorHash differs from the one
// Graph stores for the item.
var ErrHashMismatch = errors.New("onedrive: content hash mismatch")

// verifiedUpload hashes what is written and, once the upload finishes,
// compares the digest with the one Graph computed for the new item. Items
// without a QuickXorHash (some business tenants) are not checked.
type verifiedUpload struct {
	w      *graph.UploadWriter
	h      *quickXor
	name   string
	logger *slog.Logger
}

func (u *verifiedUpload) Write(p []byte) (int, error) {
	n, err := u.w.Write(p)
	u.h.Write(p[:n])

	return n, err
}

func (u *verifiedUpload) Close() error {
	if err := u.w.Close(); err != nil {
		return err
	}

	it := u.w.Item()
	if it == nil || it.QuickXorHash == "" {
		u.logger.Debug("upload not hash-verified", slog.String("name", u.name))
		return nil
	}

	if local := u.h.encoded(); local != it.QuickXorHash {
		return fmt.Errorf("%w: uploaded %q as %s, server has %s", ErrHashMismatch, u.name, local, it.QuickXorHash)
	}

	return nil
}

func (u *verifiedUpload) CloseWithError(cause error) error {
	return u.w.CloseWithError(cause)
}

// verifiedDownload hashes the body as it is read and fails the final Read
// when the digest differs from want.
type verifiedDownload struct {
	body io.ReadCloser
	h    *quickXor
	want string
	name string
}

func newVerifiedDownload(body io.ReadCloser, it *graph.Item) io.ReadCloser {
	if it.QuickXorHash == "" {
		return body
	}

	return &verifiedDownload{body: body, h: newQuickXor(), want: it.QuickXorHash, name: it.Name}
}

func (d *verifiedDownload) Read(p []byte) (int, error) {
	n, err := d.body.Read(p)
	d.h.Write(p[:n])

	if errors.Is(err, io.EOF) {
		if got := d.h.encoded(); got != d.want {
			return n, fmt.Errorf("%w: downloaded %q as %s, server has %s", ErrHashMismatch, d.name, got, d.want)
		}
	}

	return n, err
}

func (d *verifiedDownload) Close() error { return d.body.Close() }
