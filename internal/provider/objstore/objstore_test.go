package objstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/csperr"
)

// newMem returns an adapter on a fresh in-memory volume.
func newMem(t *testing.T) *Adapter {
	t.Helper()

	a, err := New("mem://"+uuid.NewString()+"/store", slog.Default())
	require.NoError(t, err)

	return a
}

func upload(t *testing.T, a *Adapter, p, data string) {
	t.Helper()

	w, err := a.OpenUploadStream(context.Background(), p, int64(len(data)))
	require.NoError(t, err)

	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func read(t *testing.T, a *Adapter, p string) string {
	t.Helper()

	r, err := a.OpenDownloadStream(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(data)
}

func names(a *Adapter, objs []Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, a.Describe(o).Name)
	}

	return out
}

func TestNewWithLocation_Nil(t *testing.T) {
	_, err := NewWithLocation(nil, nil)
	assert.ErrorIs(t, err, csperr.ErrBuild)
}

func TestFetchMetadata_Root(t *testing.T) {
	a := newMem(t)

	root, err := a.FetchMetadata(context.Background(), cloud.Ref{Path: "/"})
	require.NoError(t, err)

	info := a.Describe(root)
	assert.True(t, info.IsFolder)
	assert.Equal(t, "/", info.Path)
}

func TestCreateFolder_RequiresParentAndFreeName(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	_, err := a.CreateFolder(ctx, "/a/b")
	assert.ErrorIs(t, err, csperr.ErrNotFound)

	dir, err := a.CreateFolder(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, dir.Folder)
	assert.Equal(t, "/a", dir.Path)

	_, err = a.CreateFolder(ctx, "/a")
	assert.ErrorIs(t, err, csperr.ErrExists)

	_, err = a.CreateFolder(ctx, "/a/b")
	require.NoError(t, err)
}

func TestListChildren_FilesAndFolders(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	_, err := a.CreateFolder(ctx, "/docs")
	require.NoError(t, err)
	_, err = a.CreateFolder(ctx, "/docs/sub")
	require.NoError(t, err)
	upload(t, a, "/docs/a.txt", "alpha")

	objs, err := a.ListChildren(ctx, "/docs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, names(a, objs))

	for _, o := range objs {
		if o.Folder {
			assert.Equal(t, "/docs/sub", o.Path)
		} else {
			assert.Equal(t, int64(5), o.Size)
		}
	}

	_, err = a.ListChildren(ctx, "/missing")
	assert.ErrorIs(t, err, csperr.ErrNotFound)
}

func TestFetchMetadata_FileAndMissing(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()
	upload(t, a, "/f.bin", "12345678")

	o, err := a.FetchMetadata(ctx, cloud.Ref{Path: "/f.bin"})
	require.NoError(t, err)
	assert.False(t, o.Folder)
	assert.Equal(t, int64(8), o.Size)

	byID, err := a.FetchMetadata(ctx, cloud.Ref{ID: "/f.bin"})
	require.NoError(t, err)
	assert.Equal(t, o.Path, byID.Path)

	_, err = a.FetchMetadata(ctx, cloud.Ref{Path: "/nope"})
	assert.ErrorIs(t, err, csperr.ErrNotFound)

	_, err = a.FetchMetadata(ctx, cloud.Ref{Path: "/" + dirsObject})
	assert.ErrorIs(t, err, csperr.ErrNotFound)
}

func TestUpload_MissingParent(t *testing.T) {
	a := newMem(t)

	_, err := a.OpenUploadStream(context.Background(), "/nowhere/f.txt", 1)
	assert.ErrorIs(t, err, csperr.ErrNotFound)
}

func TestUpload_OverflowAndShortClose(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	w, err := a.OpenUploadStream(ctx, "/over.txt", 2)
	require.NoError(t, err)

	_, err = w.Write([]byte("abc"))
	require.Error(t, err)

	_, err = w.Write([]byte("a"))
	require.NoError(t, err)
	require.Error(t, w.Close())

	_, err = a.FetchMetadata(ctx, cloud.Ref{Path: "/over.txt"})
	assert.ErrorIs(t, err, csperr.ErrNotFound)
}

func TestCopyRemote_FileAndTree(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	_, err := a.CreateFolder(ctx, "/src")
	require.NoError(t, err)
	_, err = a.CreateFolder(ctx, "/src/deep")
	require.NoError(t, err)
	upload(t, a, "/src/a.txt", "A")
	upload(t, a, "/src/deep/b.txt", "B")

	cp, err := a.CopyRemote(ctx, "/src/a.txt", "/a-copy.txt")
	require.NoError(t, err)
	assert.Equal(t, "/a-copy.txt", cp.Path)
	assert.Equal(t, "A", read(t, a, "/a-copy.txt"))

	tree, err := a.CopyRemote(ctx, "/src", "/dst")
	require.NoError(t, err)
	assert.True(t, tree.Folder)
	assert.Equal(t, "B", read(t, a, "/dst/deep/b.txt"))
	assert.Equal(t, "A", read(t, a, "/src/a.txt"))

	root, err := a.ListChildren(ctx, "/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src", "dst", "a-copy.txt"}, names(a, root))

	_, err = a.CopyRemote(ctx, "/src/a.txt", "/missing/a.txt")
	assert.ErrorIs(t, err, csperr.ErrNotFound)
}

func TestMoveRemote_FileAndTree(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	_, err := a.CreateFolder(ctx, "/from")
	require.NoError(t, err)
	upload(t, a, "/from/x.txt", "X")

	require.NoError(t, a.MoveRemote(ctx, "/from/x.txt", "/from/y.txt"))
	assert.Equal(t, "X", read(t, a, "/from/y.txt"))

	_, err = a.FetchMetadata(ctx, cloud.Ref{Path: "/from/x.txt"})
	assert.ErrorIs(t, err, csperr.ErrNotFound)

	require.NoError(t, a.MoveRemote(ctx, "/from", "/to"))
	assert.Equal(t, "X", read(t, a, "/to/y.txt"))

	_, err = a.FetchMetadata(ctx, cloud.Ref{Path: "/from"})
	assert.ErrorIs(t, err, csperr.ErrNotFound)

	root, err := a.ListChildren(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"to"}, names(a, root))

	assert.Error(t, a.MoveRemote(ctx, "/", "/elsewhere"))
}

func TestDeleteRemote_Tree(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	_, err := a.CreateFolder(ctx, "/d")
	require.NoError(t, err)
	_, err = a.CreateFolder(ctx, "/d/e")
	require.NoError(t, err)
	upload(t, a, "/d/e/f.txt", "F")

	require.NoError(t, a.DeleteRemote(ctx, "/d"))

	_, err = a.FetchMetadata(ctx, cloud.Ref{Path: "/d/e/f.txt"})
	assert.ErrorIs(t, err, csperr.ErrNotFound)

	root, err := a.ListChildren(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, root)

	assert.ErrorIs(t, a.DeleteRemote(ctx, "/d"), csperr.ErrNotFound)
	assert.Error(t, a.DeleteRemote(ctx, "/"))
}

func TestCreateDirectLink(t *testing.T) {
	ctx := context.Background()

	mem := newMem(t)
	upload(t, mem, "/m.txt", "m")

	o, err := mem.FetchMetadata(ctx, cloud.Ref{Path: "/m.txt"})
	require.NoError(t, err)

	_, err = mem.CreateDirectLink(ctx, o)
	assert.ErrorIs(t, err, csperr.ErrUnavailable)

	disk, err := New("file://"+filepath.ToSlash(t.TempDir()), nil)
	require.NoError(t, err)
	upload(t, disk, "/d.txt", "d")

	o, err = disk.FetchMetadata(ctx, cloud.Ref{Path: "/d.txt"})
	require.NoError(t, err)

	link, err := disk.CreateDirectLink(ctx, o)
	require.NoError(t, err)
	assert.Contains(t, link.URL, "file://")
	assert.True(t, link.Expires.IsZero())
}

func TestCancelledContext(t *testing.T) {
	a := newMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.CreateFolder(ctx, "/x")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = a.OpenDownloadStream(ctx, "/x")
	assert.ErrorIs(t, err, context.Canceled)
}

// The container tree runs end to end against an object store.
func TestSession_EndToEnd(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	s, err := cloud.NewSession[Object](a, slog.Default())
	require.NoError(t, err)

	root, err := s.Root(ctx)
	require.NoError(t, err)

	photos, err := root.CreateFolder(ctx, "photos", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "/photos", photos.Path())

	local := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(local, []byte("meow"), 0o600))

	cat, err := photos.Upload(ctx, cloud.UploadRequest[Object]{LocalPath: local})
	require.NoError(t, err)
	assert.Equal(t, "/photos/cat.jpg", cat.Path())

	require.NoError(t, cat.Rename(ctx, "kitten.jpg", false, nil))
	assert.Equal(t, "meow", read(t, a, "/photos/kitten.jpg"))

	out := filepath.Join(t.TempDir(), "out.jpg")
	require.NoError(t, cat.Download(ctx, cloud.DownloadRequest{LocalPath: out}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	require.NoError(t, photos.Delete(ctx, nil))

	_, err = s.Lookup(ctx, "/photos")
	assert.ErrorIs(t, err, csperr.ErrNotFound)
}

func TestRemote_RefusesExistingDestination(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	upload(t, a, "/new.txt", "NEW")
	upload(t, a, "/old.txt", "OLD")

	_, err := a.CopyRemote(ctx, "/new.txt", "/old.txt")
	assert.ErrorIs(t, err, csperr.ErrExists)

	err = a.MoveRemote(ctx, "/new.txt", "/old.txt")
	assert.ErrorIs(t, err, csperr.ErrExists)

	_, err = a.OpenUploadStream(ctx, "/old.txt", 3)
	assert.ErrorIs(t, err, csperr.ErrExists)

	assert.Equal(t, "OLD", read(t, a, "/old.txt"))
	assert.Equal(t, "NEW", read(t, a, "/new.txt"))
}

// Folders reached through Lookup are never loaded; the collision check must
// still see what the store holds.
func TestSession_CollisionInUnloadedFolder(t *testing.T) {
	a := newMem(t)
	ctx := context.Background()

	for _, dir := range []string{"/docs", "/archive"} {
		_, err := a.CreateFolder(ctx, dir)
		require.NoError(t, err)
	}

	upload(t, a, "/docs/report.pdf", "NEW")
	upload(t, a, "/archive/report.pdf", "OLD-PRECIOUS")

	s, err := cloud.NewSession[Object](a, slog.Default())
	require.NoError(t, err)

	src, err := s.Lookup(ctx, "/docs/report.pdf")
	require.NoError(t, err)

	node, err := s.Lookup(ctx, "/archive")
	require.NoError(t, err)

	archive, ok := node.(*cloud.Folder[Object])
	require.True(t, ok)
	require.False(t, archive.Loaded())

	var states []cloud.OperationState
	listen := func(e cloud.OperationEvent[Object]) { states = append(states, e.State) }

	err = src.Move(ctx, archive, false, listen)
	require.Error(t, err)
	assert.ErrorIs(t, err, csperr.ErrOperation)
	assert.Contains(t, err.Error(), "file already exists")
	assert.Equal(t, []cloud.OperationState{cloud.Failed}, states)

	_, err = src.Copy(ctx, archive, false, nil)
	assert.ErrorIs(t, err, csperr.ErrExists)

	assert.Equal(t, "OLD-PRECIOUS", read(t, a, "/archive/report.pdf"))
	assert.Equal(t, "/docs/report.pdf", src.Path())

	require.NoError(t, src.Move(ctx, archive, true, nil))
	assert.Equal(t, "NEW", read(t, a, "/archive/report.pdf"))
	assert.Equal(t, "/archive/report.pdf", src.Path())
	assert.Len(t, archive.Children(), 1)
}
