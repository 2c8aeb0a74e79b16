// Package objstore adapts any c2fo/vfs backend (mem://, file://, s3://,
// gs://, ...) to the cloud container tree.
//
// Object stores have no real directories, so a folder is recorded as a
// manifest object named dirsObject inside it, listing the names of its
// subfolders. A folder exists iff its manifest exists; the root always
// exists. Folders written by other tools without a manifest are invisible.
package objstore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c2fo/vfs/v7"
	_ "github.com/c2fo/vfs/v7/backend/mem" // register mem://
	_ "github.com/c2fo/vfs/v7/backend/os"  // register file://
	"github.com/c2fo/vfs/v7/vfssimple"

	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/csperr"
)

// Name identifies the provider in config.
const Name = "objstore"

// dirsObject is the per-folder manifest of subfolder names.
const dirsObject = ".cloudtree-dirs"

var _ cloud.Adapter[Object] = (*Adapter)(nil)

// Object is the native type: a file or folder under the adapter root.
type Object struct {
	Path     string // "/" for the root
	Size     int64
	Modified time.Time
	Folder   bool
	URI      string
}

// Adapter implements cloud.Adapter over a vfs.Location.
type Adapter struct {
	root   vfs.Location
	logger *slog.Logger

	// mu serialises manifest read-modify-write cycles.
	mu sync.Mutex
}

// New resolves rootURI with vfssimple and returns an adapter rooted there.
func New(rootURI string, logger *slog.Logger) (*Adapter, error) {
	if !strings.HasSuffix(rootURI, "/") {
		rootURI += "/"
	}

	loc, err := vfssimple.NewLocation(rootURI)
	if err != nil {
		return nil, csperr.Build("objstore adapter", err)
	}

	return NewWithLocation(loc, logger)
}

// NewWithLocation returns an adapter rooted at loc.
func NewWithLocation(loc vfs.Location, logger *slog.Logger) (*Adapter, error) {
	if loc == nil {
		return nil, csperr.Build("objstore adapter", errors.New("nil root location"))
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{root: loc, logger: logger}, nil
}

// RootURI returns the URI the adapter is rooted at.
func (a *Adapter) RootURI() string { return a.root.URI() }

// rel turns an absolute slash path into a root-relative one; the root is "".
func rel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func abs(r string) string {
	return "/" + r
}

func parentOf(r string) string {
	if d := path.Dir(r); d != "." {
		return d
	}

	return ""
}

func (a *Adapter) location(r string) (vfs.Location, error) {
	if r == "" {
		return a.root, nil
	}

	return a.root.NewLocation(r + "/")
}

func (a *Adapter) file(r string) (vfs.File, error) {
	return a.root.NewFile(r)
}

func notFound(p string) error {
	return fmt.Errorf("%w: %s", csperr.ErrNotFound, p)
}

// free fails with ErrExists when something already lives at r. Objects are
// never replaced implicitly; overwriting is the caller's delete first.
func (a *Adapter) free(r string) error {
	if _, err := a.stat(r); err == nil {
		return fmt.Errorf("%w: %s", csperr.ErrExists, abs(r))
	} else if !errors.Is(err, csperr.ErrNotFound) {
		return err
	}

	return nil
}

// Describe maps an object to the neutral view. The path doubles as the ID.
func (a *Adapter) Describe(o Object) cloud.Info {
	return cloud.Info{
		ID:       o.Path,
		Name:     path.Base(o.Path),
		Path:     o.Path,
		Size:     o.Size,
		IsFolder: o.Folder,
		Modified: o.Modified,
	}
}

// FetchMetadata resolves ref.Path, falling back to ref.ID (also a path).
func (a *Adapter) FetchMetadata(ctx context.Context, ref cloud.Ref) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	p := ref.Path
	if p == "" {
		p = ref.ID
	}

	return a.stat(rel(p))
}

func (a *Adapter) stat(r string) (Object, error) {
	if r == "" {
		return Object{Path: "/", Folder: true, URI: a.root.URI()}, nil
	}

	if path.Base(r) != dirsObject {
		if o, ok, err := a.statFile(r); err != nil || ok {
			return o, err
		}
	}

	ok, err := a.isFolder(r)
	if err != nil {
		return Object{}, err
	}

	if !ok {
		return Object{}, notFound(abs(r))
	}

	loc, err := a.location(r)
	if err != nil {
		return Object{}, err
	}

	return Object{Path: abs(r), Folder: true, URI: loc.URI()}, nil
}

func (a *Adapter) statFile(r string) (Object, bool, error) {
	f, err := a.file(r)
	if err != nil {
		return Object{}, false, err
	}

	ok, err := f.Exists()
	if err != nil || !ok {
		return Object{}, false, err
	}

	size, err := f.Size()
	if err != nil {
		return Object{}, false, fmt.Errorf("size of %s: %w", abs(r), err)
	}

	o := Object{Path: abs(r), Size: int64(size), URI: f.URI()} //nolint:gosec // object sizes fit int64

	if mod, merr := f.LastModified(); merr == nil && mod != nil {
		o.Modified = *mod
	}

	return o, true, nil
}

func (a *Adapter) isFolder(r string) (bool, error) {
	if r == "" {
		return true, nil
	}

	f, err := a.file(path.Join(r, dirsObject))
	if err != nil {
		return false, err
	}

	return f.Exists()
}

// readDirs returns the subfolder names recorded for folder r.
func (a *Adapter) readDirs(r string) ([]string, error) {
	f, err := a.file(path.Join(r, dirsObject))
	if err != nil {
		return nil, err
	}

	ok, err := f.Exists()
	if err != nil || !ok {
		return nil, err
	}

	defer f.Close()

	var names []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading folder manifest %s: %w", abs(r), err)
	}

	return names, nil
}

// writeDirs replaces the manifest of folder r.
func (a *Adapter) writeDirs(r string, names []string) error {
	f, err := a.file(path.Join(r, dirsObject))
	if err != nil {
		return err
	}

	if ok, _ := f.Exists(); ok { //nolint:errcheck // a failed probe just skips the delete
		if err := f.Delete(); err != nil {
			return fmt.Errorf("replacing folder manifest %s: %w", abs(r), err)
		}

		if f, err = a.file(path.Join(r, dirsObject)); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close() //nolint:errcheck // write error wins

		return fmt.Errorf("writing folder manifest %s: %w", abs(r), err)
	}

	return f.Close()
}

// linkDir adds or removes name in the manifest of folder parent.
func (a *Adapter) linkDir(parent, name string, add bool) error {
	names, err := a.readDirs(parent)
	if err != nil {
		return err
	}

	names = slices.DeleteFunc(names, func(n string) bool { return n == name })
	if add {
		names = append(names, name)
	}

	return a.writeDirs(parent, names)
}

// ListChildren returns the files and recorded subfolders of folderPath.
func (a *Adapter) ListChildren(ctx context.Context, folderPath string) ([]Object, error) {
	r := rel(folderPath)

	a.mu.Lock()
	defer a.mu.Unlock()

	ok, err := a.isFolder(r)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, notFound(abs(r))
	}

	loc, err := a.location(r)
	if err != nil {
		return nil, err
	}

	names, err := loc.List()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", abs(r), err)
	}

	var out []Object

	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if n == dirsObject {
			continue
		}

		o, found, err := a.statFile(path.Join(r, n))
		if err != nil {
			return nil, err
		}

		if found {
			out = append(out, o)
		}
	}

	dirs, err := a.readDirs(r)
	if err != nil {
		return nil, err
	}

	for _, d := range dirs {
		sub, err := a.location(path.Join(r, d))
		if err != nil {
			return nil, err
		}

		out = append(out, Object{Path: abs(path.Join(r, d)), Folder: true, URI: sub.URI()})
	}

	return out, nil
}

// CreateDirectLink returns a file:// URI for objects on the local disk.
// Other backends have no pre-signed links through vfs.
func (a *Adapter) CreateDirectLink(_ context.Context, o Object) (cloud.Link, error) {
	if o.Folder || !strings.HasPrefix(o.URI, "file://") {
		return cloud.Link{}, fmt.Errorf("%w: no direct link for %s", csperr.ErrUnavailable, o.URI)
	}

	return cloud.Link{URL: o.URI}, nil
}

// CreateFolder records a new folder at p. The parent must exist and the
// name must be free.
func (a *Adapter) CreateFolder(ctx context.Context, p string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	r := rel(p)
	if r == "" {
		return Object{}, fmt.Errorf("%w: %s", csperr.ErrExists, p)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.mkdir(r); err != nil {
		return Object{}, err
	}

	return a.stat(r)
}

func (a *Adapter) mkdir(r string) error {
	parent := parentOf(r)

	ok, err := a.isFolder(parent)
	if err != nil {
		return err
	}

	if !ok {
		return notFound(abs(parent))
	}

	if _, err := a.stat(r); err == nil {
		return fmt.Errorf("%w: %s", csperr.ErrExists, abs(r))
	}

	if err := a.writeDirs(r, nil); err != nil {
		return err
	}

	return a.linkDir(parent, path.Base(r), true)
}

// CopyRemote copies a file, or a folder recursively, to destPath.
func (a *Adapter) CopyRemote(ctx context.Context, srcPath, destPath string) (Object, error) {
	src, dst := rel(srcPath), rel(destPath)

	a.mu.Lock()
	defer a.mu.Unlock()

	o, err := a.stat(src)
	if err != nil {
		return Object{}, err
	}

	if ok, perr := a.isFolder(parentOf(dst)); perr != nil || !ok {
		if perr != nil {
			return Object{}, perr
		}

		return Object{}, notFound(abs(parentOf(dst)))
	}

	if err := a.free(dst); err != nil {
		return Object{}, err
	}

	if o.Folder {
		err = a.copyTree(ctx, src, dst)
	} else {
		err = a.copyFile(src, dst)
	}

	if err != nil {
		return Object{}, err
	}

	return a.stat(dst)
}

func (a *Adapter) copyFile(src, dst string) error {
	sf, err := a.file(src)
	if err != nil {
		return err
	}

	df, err := a.file(dst)
	if err != nil {
		return err
	}

	if err := sf.CopyToFile(df); err != nil {
		return fmt.Errorf("copying %s to %s: %w", abs(src), abs(dst), err)
	}

	return nil
}

func (a *Adapter) copyTree(ctx context.Context, src, dst string) error {
	if err := a.mkdir(dst); err != nil {
		return err
	}

	loc, err := a.location(src)
	if err != nil {
		return err
	}

	names, err := loc.List()
	if err != nil {
		return fmt.Errorf("listing %s: %w", abs(src), err)
	}

	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		if n == dirsObject {
			continue
		}

		if err := a.copyFile(path.Join(src, n), path.Join(dst, n)); err != nil {
			return err
		}
	}

	dirs, err := a.readDirs(src)
	if err != nil {
		return err
	}

	for _, d := range dirs {
		if err := a.copyTree(ctx, path.Join(src, d), path.Join(dst, d)); err != nil {
			return err
		}
	}

	return nil
}

// MoveRemote moves a file, or a folder recursively, to destPath.
func (a *Adapter) MoveRemote(ctx context.Context, srcPath, destPath string) error {
	src, dst := rel(srcPath), rel(destPath)
	if src == "" {
		return errors.New("cannot move the root")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o, err := a.stat(src)
	if err != nil {
		return err
	}

	if err := a.free(dst); err != nil {
		return err
	}

	if !o.Folder {
		sf, err := a.file(src)
		if err != nil {
			return err
		}

		df, err := a.file(dst)
		if err != nil {
			return err
		}

		if err := sf.MoveToFile(df); err != nil {
			return fmt.Errorf("moving %s to %s: %w", abs(src), abs(dst), err)
		}

		return nil
	}

	if err := a.copyTree(ctx, src, dst); err != nil {
		return err
	}

	return a.removeTree(ctx, src)
}

// DeleteRemote deletes a file, or a folder recursively.
func (a *Adapter) DeleteRemote(ctx context.Context, p string) error {
	r := rel(p)
	if r == "" {
		return errors.New("cannot delete the root")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o, err := a.stat(r)
	if err != nil {
		return err
	}

	if o.Folder {
		return a.removeTree(ctx, r)
	}

	f, err := a.file(r)
	if err != nil {
		return err
	}

	return f.Delete()
}

func (a *Adapter) removeTree(ctx context.Context, r string) error {
	dirs, err := a.readDirs(r)
	if err != nil {
		return err
	}

	for _, d := range dirs {
		if err := a.removeTree(ctx, path.Join(r, d)); err != nil {
			return err
		}
	}

	loc, err := a.location(r)
	if err != nil {
		return err
	}

	names, err := loc.List()
	if err != nil {
		return fmt.Errorf("listing %s: %w", abs(r), err)
	}

	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := loc.DeleteFile(n); err != nil {
			return fmt.Errorf("deleting %s: %w", abs(path.Join(r, n)), err)
		}
	}

	return a.linkDir(parentOf(r), path.Base(r), false)
}

// OpenUploadStream returns a sink writing destPath. The object appears on
// Close; CloseWithError removes whatever was written.
func (a *Adapter) OpenUploadStream(ctx context.Context, destPath string, size int64) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := rel(destPath)

	a.mu.Lock()
	ok, err := a.isFolder(parentOf(r))
	if err == nil && ok {
		err = a.free(r)
	}
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, notFound(abs(parentOf(r)))
	}

	f, err := a.file(r)
	if err != nil {
		return nil, err
	}

	return &sink{f: f, size: size, logger: a.logger}, nil
}

// OpenDownloadStream opens srcPath for reading.
func (a *Adapter) OpenDownloadStream(ctx context.Context, srcPath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := rel(srcPath)

	f, err := a.file(r)
	if err != nil {
		return nil, err
	}

	ok, err := f.Exists()
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, notFound(abs(r))
	}

	return f, nil
}

// sink enforces the declared size and deletes partial objects on abort.
type sink struct {
	f       vfs.File
	size    int64
	written int64
	done    bool
	logger  *slog.Logger
}

func (s *sink) Write(p []byte) (int, error) {
	if s.written+int64(len(p)) > s.size {
		return 0, fmt.Errorf("upload of %s exceeds declared size %d", s.f.Path(), s.size)
	}

	n, err := s.f.Write(p)
	s.written += int64(n)

	return n, err
}

func (s *sink) Close() error {
	if s.done {
		return nil
	}

	if s.written != s.size {
		err := fmt.Errorf("upload of %s short: wrote %d of %d bytes", s.f.Path(), s.written, s.size)
		_ = s.CloseWithError(err) //nolint:errcheck // reporting the short write

		return err
	}

	s.done = true

	return s.f.Close()
}

func (s *sink) CloseWithError(cause error) error {
	if s.done {
		return nil
	}

	s.done = true

	s.logger.Warn("abandoning upload",
		slog.String("path", s.f.Path()),
		slog.String("cause", fmt.Sprint(cause)),
	)

	_ = s.f.Close() //nolint:errcheck // the object is removed next

	if ok, _ := s.f.Exists(); ok { //nolint:errcheck // nothing to remove on a failed probe
		return s.f.Delete()
	}

	return nil
}
