package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/transfer"
)

// remote is the provider-neutral command surface. Each provider's native
// type is hidden behind a tree[N], so commands are written once.
type remote interface {
	List(ctx context.Context, p string) ([]cloud.Info, error)
	Stat(ctx context.Context, p string) (cloud.Info, error)
	Find(ctx context.Context, dir, name string, opts cloud.SearchOptions) ([]cloud.Info, error)
	Mkdir(ctx context.Context, p string, parents bool) (cloud.Info, error)
	Remove(ctx context.Context, p string) error
	Copy(ctx context.Context, src, destDir string, overwrite bool) (cloud.Info, error)
	Move(ctx context.Context, src, destDir string, overwrite bool) error
	Rename(ctx context.Context, p, name string, overwrite bool) error
	Put(ctx context.Context, req putRequest) (cloud.Info, error)
	Get(ctx context.Context, remotePath, localPath string, tl transfer.Listener) error
	Link(ctx context.Context, p string) (cloud.Link, error)
}

// putRequest is one upload. Dir must exist.
type putRequest struct {
	LocalPath string
	Dir       string
	Name      string
	Overwrite bool
	Listener  transfer.Listener
}

// tree adapts a cloud.Session to remote.
type tree[N any] struct {
	session *cloud.Session[N]
	logger  *slog.Logger
}

var errNotFolder = errors.New("not a folder")

func newTree[N any](session *cloud.Session[N], logger *slog.Logger) *tree[N] {
	return &tree[N]{session: session, logger: logger}
}

// trace logs every operation event at debug level. It is passed as the
// per-invocation listener of every operation the CLI starts.
func (t *tree[N]) trace(e cloud.OperationEvent[N]) {
	attrs := []any{
		slog.String("op", e.Operation.String()),
		slog.String("state", e.State.String()),
		slog.String("path", e.Subject.Path()),
		slog.Float64("progress", e.Progress),
	}

	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	t.logger.Debug("operation", attrs...)
}

func (t *tree[N]) folder(ctx context.Context, p string) (*cloud.Folder[N], error) {
	node, err := t.session.Lookup(ctx, p)
	if err != nil {
		return nil, err
	}

	f, ok := node.(*cloud.Folder[N])
	if !ok {
		return nil, fmt.Errorf("%s: %w", node.Path(), errNotFolder)
	}

	return f, nil
}

func (t *tree[N]) file(ctx context.Context, p string) (*cloud.File[N], error) {
	node, err := t.session.Lookup(ctx, p)
	if err != nil {
		return nil, err
	}

	f, ok := node.(*cloud.File[N])
	if !ok {
		return nil, fmt.Errorf("%s is a folder", node.Path())
	}

	return f, nil
}

func infos[N any](nodes []cloud.Node[N]) []cloud.Info {
	out := make([]cloud.Info, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Info())
	}

	return out
}

// List returns the children of the folder at p, or the file itself.
func (t *tree[N]) List(ctx context.Context, p string) ([]cloud.Info, error) {
	node, err := t.session.Lookup(ctx, p)
	if err != nil {
		return nil, err
	}

	f, ok := node.(*cloud.Folder[N])
	if !ok {
		return []cloud.Info{node.Info()}, nil
	}

	if err := f.Load(ctx); err != nil {
		return nil, err
	}

	return infos(f.Children()), nil
}

func (t *tree[N]) Stat(ctx context.Context, p string) (cloud.Info, error) {
	node, err := t.session.Lookup(ctx, p)
	if err != nil {
		return cloud.Info{}, err
	}

	if err := node.UpdateFromSource(ctx, t.trace); err != nil {
		return cloud.Info{}, err
	}

	return node.Info(), nil
}

func (t *tree[N]) Find(ctx context.Context, dir, name string, opts cloud.SearchOptions) ([]cloud.Info, error) {
	f, err := t.folder(ctx, dir)
	if err != nil {
		return nil, err
	}

	opts.Load = true

	found, err := f.Search(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	return infos(found), nil
}

// Mkdir creates the folder at p. With parents, missing ancestors are
// created and an existing folder is not an error.
func (t *tree[N]) Mkdir(ctx context.Context, p string, parents bool) (cloud.Info, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return cloud.Info{}, csperr.Creation("mkdir", p, csperr.ErrExists)
	}

	if !parents {
		parent, err := t.folder(ctx, path.Dir(p))
		if err != nil {
			return cloud.Info{}, err
		}

		created, err := parent.CreateFolder(ctx, path.Base(p), false, t.trace)
		if err != nil {
			return cloud.Info{}, err
		}

		return created.Info(), nil
	}

	current, err := t.session.Root(ctx)
	if err != nil {
		return cloud.Info{}, err
	}

	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		next, err := t.session.Lookup(ctx, path.Join(current.Path(), seg))

		switch {
		case err == nil:
			f, ok := next.(*cloud.Folder[N])
			if !ok {
				return cloud.Info{}, fmt.Errorf("%s: %w", next.Path(), errNotFolder)
			}

			current = f
		case errors.Is(err, csperr.ErrNotFound):
			current, err = current.CreateFolder(ctx, seg, false, t.trace)
			if err != nil {
				return cloud.Info{}, err
			}
		default:
			return cloud.Info{}, err
		}
	}

	return current.Info(), nil
}

func (t *tree[N]) Remove(ctx context.Context, p string) error {
	node, err := t.session.Lookup(ctx, p)
	if err != nil {
		return err
	}

	return node.Delete(ctx, t.trace)
}

func (t *tree[N]) Copy(ctx context.Context, src, destDir string, overwrite bool) (cloud.Info, error) {
	node, err := t.session.Lookup(ctx, src)
	if err != nil {
		return cloud.Info{}, err
	}

	dest, err := t.folder(ctx, destDir)
	if err != nil {
		return cloud.Info{}, err
	}

	copied, err := node.Copy(ctx, dest, overwrite, t.trace)
	if err != nil {
		return cloud.Info{}, err
	}

	return copied.Info(), nil
}

func (t *tree[N]) Move(ctx context.Context, src, destDir string, overwrite bool) error {
	node, err := t.session.Lookup(ctx, src)
	if err != nil {
		return err
	}

	dest, err := t.folder(ctx, destDir)
	if err != nil {
		return err
	}

	return node.Move(ctx, dest, overwrite, t.trace)
}

func (t *tree[N]) Rename(ctx context.Context, p, name string, overwrite bool) error {
	node, err := t.session.Lookup(ctx, p)
	if err != nil {
		return err
	}

	return node.Rename(ctx, name, overwrite, t.trace)
}

func (t *tree[N]) Put(ctx context.Context, req putRequest) (cloud.Info, error) {
	dir, err := t.folder(ctx, req.Dir)
	if err != nil {
		return cloud.Info{}, err
	}

	f, err := dir.Upload(ctx, cloud.UploadRequest[N]{
		LocalPath:        req.LocalPath,
		Name:             req.Name,
		Overwrite:        req.Overwrite,
		Listener:         t.trace,
		TransferListener: req.Listener,
	})
	if err != nil {
		return cloud.Info{}, err
	}

	return f.Info(), nil
}

func (t *tree[N]) Get(ctx context.Context, remotePath, localPath string, tl transfer.Listener) error {
	f, err := t.file(ctx, remotePath)
	if err != nil {
		return err
	}

	return f.Download(ctx, cloud.DownloadRequest{LocalPath: localPath, TransferListener: tl})
}

func (t *tree[N]) Link(ctx context.Context, p string) (cloud.Link, error) {
	f, err := t.file(ctx, p)
	if err != nil {
		return cloud.Link{}, err
	}

	return f.Link(ctx)
}
