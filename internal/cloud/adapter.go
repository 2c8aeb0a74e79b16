// Package cloud is the provider-agnostic container tree. A Session wraps one
// provider Adapter and hands out Files and Folders backed by the adapter's
// native object type N. Every CRUD call on a container runs the operation
// state machine (IN_PROGRESS → COMPLETED | FAILED) and reports it to the
// container's operation listeners; uploads and downloads additionally run a
// transfer.Job.
//
// The core never looks inside N. Everything it needs to know about a native
// object comes from Adapter.Describe.
package cloud

import (
	"context"
	"io"
	"path"
	"time"
)

// Info is the provider-neutral view of a native object.
type Info struct {
	ID       string
	Name     string
	Path     string // forward-slash separated, root is "/"
	Size     int64
	IsFolder bool
	Modified time.Time
}

// Ref addresses a remote object by ID, path, or both. Adapters prefer the ID
// when they can resolve it.
type Ref struct {
	ID   string
	Path string
}

// Link is a time-limited direct download URL. A zero Expires means the
// provider gave no expiry.
type Link struct {
	URL     string
	Expires time.Time
}

// Valid reports whether the link is usable at now.
func (l Link) Valid(now time.Time) bool {
	if l.URL == "" {
		return false
	}

	return l.Expires.IsZero() || now.Before(l.Expires)
}

// Adapter is the contract one storage provider implements. Paths are
// absolute and slash separated. Adapters report a missing object with an
// error matching csperr.ErrNotFound and an unsupported direct link with
// csperr.ErrUnavailable.
type Adapter[N any] interface {
	// Describe extracts the provider-neutral fields of a native object.
	Describe(native N) Info

	FetchMetadata(ctx context.Context, ref Ref) (N, error)
	ListChildren(ctx context.Context, folderPath string) ([]N, error)
	CreateDirectLink(ctx context.Context, native N) (Link, error)
	CopyRemote(ctx context.Context, srcPath, destPath string) (N, error)
	MoveRemote(ctx context.Context, srcPath, destPath string) error
	DeleteRemote(ctx context.Context, path string) error
	CreateFolder(ctx context.Context, path string) (N, error)

	// OpenUploadStream returns a sink for a new object at destPath. The
	// object is committed when Close returns nil. If the sink also has a
	// CloseWithError method, the core calls it to abort a failed upload.
	OpenUploadStream(ctx context.Context, destPath string, size int64) (io.WriteCloser, error)
	OpenDownloadStream(ctx context.Context, srcPath string) (io.ReadCloser, error)
}

// RemotePath is a transfer endpoint for a remote object that may not exist
// yet, such as the destination of an upload.
type RemotePath string

// Name returns the last path element.
func (p RemotePath) Name() string { return path.Base(string(p)) }

// Path returns the remote path.
func (p RemotePath) Path() string { return string(p) }

// joinPath joins a folder path and a child name without doubling the root
// slash.
func joinPath(dir, name string) string {
	return path.Join("/", dir, name)
}
