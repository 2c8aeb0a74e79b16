package cloud

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudtree/cloudtree/internal/csperr"
)

// File is a container for a single remote object. It caches the direct link
// last created for it until the link expires or the file is relocated.
type File[N any] struct {
	Container[N]

	linkMu sync.Mutex
	link   Link
	now    func() time.Time
}

func newFile[N any](s *Session[N], native N) *File[N] {
	f := &File[N]{now: s.now}
	f.init(s, native, f)

	return f
}

// Link returns a direct download link, creating one through the provider
// when none is cached or the cached one has expired.
func (f *File[N]) Link(ctx context.Context) (Link, error) {
	f.linkMu.Lock()
	defer f.linkMu.Unlock()

	if f.link.Valid(f.now()) {
		return f.link, nil
	}

	f.link = Link{}

	link, err := f.adapter.CreateDirectLink(ctx, f.Native())
	if err != nil {
		return Link{}, csperr.Access("create link", f.Path(), err)
	}

	f.link = link

	return link, nil
}

// CachedLink returns the cached link if it is still valid.
func (f *File[N]) CachedLink() (Link, bool) {
	f.linkMu.Lock()
	defer f.linkMu.Unlock()

	if f.link.Valid(f.now()) {
		return f.link, true
	}

	return Link{}, false
}

// InvalidateLink drops the cached link.
func (f *File[N]) InvalidateLink() {
	f.linkMu.Lock()
	defer f.linkMu.Unlock()

	if f.link.URL != "" {
		f.logger.Debug("direct link invalidated", slog.String("path", f.Path()))
	}

	f.link = Link{}
}

func (f *File[N]) pathChanged() { f.InvalidateLink() }
