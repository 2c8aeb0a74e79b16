package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudtree/cloudtree/internal/csperr"
)

// fakeObject is the native type of fakeAdapter.
type fakeObject struct {
	ID     string
	Path   string
	Size   int64
	Folder bool
}

// fakeAdapter is an in-memory provider. It records every mutating call and
// can be told to fail a method.
type fakeAdapter struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	data    map[string][]byte
	calls   []string
	fail    map[string]error
	nextID  int
	linkTTL time.Duration
	now     func() time.Time
	links   int

	// onUpload, when set, runs at the start of OpenUploadStream without the
	// adapter lock held.
	onUpload func(dst string)
}

// newFakeAdapter seeds the tree. Entries ending in "/" are folders; parents
// are created implicitly.
func newFakeAdapter(entries ...string) *fakeAdapter {
	a := &fakeAdapter{
		objects: make(map[string]fakeObject),
		data:    make(map[string][]byte),
		fail:    make(map[string]error),
		linkTTL: time.Hour,
		now:     time.Now,
	}

	a.put("/", true, nil)

	for _, e := range entries {
		if strings.HasSuffix(e, "/") {
			a.put(strings.TrimSuffix(e, "/"), true, nil)
			continue
		}

		a.put(e, false, []byte("content of "+e))
	}

	return a
}

func (a *fakeAdapter) put(p string, folder bool, data []byte) {
	p = path.Clean("/" + p)

	if p != "/" {
		if _, ok := a.objects[path.Dir(p)]; !ok {
			a.put(path.Dir(p), true, nil)
		}
	}

	a.nextID++
	a.objects[p] = fakeObject{ID: fmt.Sprintf("id-%d", a.nextID), Path: p, Size: int64(len(data)), Folder: folder}

	if !folder {
		a.data[p] = data
	}
}

func (a *fakeAdapter) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	a.calls = append(a.calls, call)

	method := strings.Fields(call)[0]

	return a.fail[method]
}

func (a *fakeAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.calls...)
}

func (a *fakeAdapter) FailOn(method string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fail[method] = err
}

func (a *fakeAdapter) Exists(p string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.objects[p]

	return ok
}

func (a *fakeAdapter) Describe(o fakeObject) Info {
	name := path.Base(o.Path)
	if o.Path == "/" {
		name = "/"
	}

	return Info{ID: o.ID, Name: name, Path: o.Path, Size: o.Size, IsFolder: o.Folder}
}

func (a *fakeAdapter) FetchMetadata(_ context.Context, ref Ref) (fakeObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fail["fetch"]; err != nil {
		return fakeObject{}, err
	}

	o, ok := a.objects[path.Clean("/"+ref.Path)]
	if !ok {
		return fakeObject{}, fmt.Errorf("fetch %s: %w", ref.Path, csperr.ErrNotFound)
	}

	return o, nil
}

func (a *fakeAdapter) ListChildren(_ context.Context, dir string) ([]fakeObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fail["list"]; err != nil {
		return nil, err
	}

	var out []fakeObject

	for p, o := range a.objects {
		if p != "/" && path.Dir(p) == dir {
			out = append(out, o)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func (a *fakeAdapter) CreateDirectLink(_ context.Context, o fakeObject) (Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fail["link"]; err != nil {
		return Link{}, err
	}

	a.links++

	return Link{URL: fmt.Sprintf("https://fake.example/%s?n=%d", o.ID, a.links), Expires: a.now().Add(a.linkTTL)}, nil
}

func (a *fakeAdapter) CopyRemote(_ context.Context, src, dst string) (fakeObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record("copy %s %s", src, dst); err != nil {
		return fakeObject{}, err
	}

	if _, ok := a.objects[dst]; ok {
		return fakeObject{}, fmt.Errorf("remote conflict at %s", dst)
	}

	for _, p := range a.subtree(src) {
		o := a.objects[p]
		a.put(dst+strings.TrimPrefix(p, src), o.Folder, a.data[p])
	}

	return a.objects[dst], nil
}

func (a *fakeAdapter) MoveRemote(_ context.Context, src, dst string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record("move %s %s", src, dst); err != nil {
		return err
	}

	if _, ok := a.objects[src]; !ok {
		return fmt.Errorf("move %s: %w", src, csperr.ErrNotFound)
	}

	if _, ok := a.objects[dst]; ok {
		return fmt.Errorf("remote conflict at %s", dst)
	}

	for _, p := range a.subtree(src) {
		o := a.objects[p]
		np := dst + strings.TrimPrefix(p, src)
		o.Path = np
		a.objects[np] = o
		delete(a.objects, p)

		if d, ok := a.data[p]; ok {
			a.data[np] = d
			delete(a.data, p)
		}
	}

	return nil
}

func (a *fakeAdapter) DeleteRemote(_ context.Context, p string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record("delete %s", p); err != nil {
		return err
	}

	if _, ok := a.objects[p]; !ok {
		return fmt.Errorf("delete %s: %w", p, csperr.ErrNotFound)
	}

	for _, sp := range a.subtree(p) {
		delete(a.objects, sp)
		delete(a.data, sp)
	}

	return nil
}

func (a *fakeAdapter) CreateFolder(_ context.Context, p string) (fakeObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record("mkdir %s", p); err != nil {
		return fakeObject{}, err
	}

	a.put(p, true, nil)

	return a.objects[p], nil
}

func (a *fakeAdapter) OpenUploadStream(_ context.Context, dst string, _ int64) (io.WriteCloser, error) {
	if a.onUpload != nil {
		a.onUpload(dst)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record("upload %s", dst); err != nil {
		return nil, err
	}

	return &fakeSink{a: a, path: dst}, nil
}

func (a *fakeAdapter) OpenDownloadStream(_ context.Context, src string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record("download %s", src); err != nil {
		return nil, err
	}

	d, ok := a.data[src]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", src, csperr.ErrNotFound)
	}

	return io.NopCloser(bytes.NewReader(d)), nil
}

// subtree returns p and every path below it. Caller holds a.mu.
func (a *fakeAdapter) subtree(p string) []string {
	var out []string

	for k := range a.objects {
		if k == p || strings.HasPrefix(k, p+"/") {
			out = append(out, k)
		}
	}

	sort.Strings(out)

	return out
}

type fakeSink struct {
	a       *fakeAdapter
	path    string
	buf     bytes.Buffer
	aborted bool
}

func (s *fakeSink) Write(b []byte) (int, error) { return s.buf.Write(b) }

func (s *fakeSink) Close() error {
	if s.aborted {
		return nil
	}

	s.a.mu.Lock()
	defer s.a.mu.Unlock()

	s.a.put(s.path, false, s.buf.Bytes())

	return nil
}

func (s *fakeSink) CloseWithError(error) error {
	s.aborted = true
	return nil
}
