package cloud

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/event"
)

// folderSeq orders folder operation locks so two-folder operations (move)
// always acquire them in the same order.
var folderSeq atomic.Uint64

// Folder is a container that owns an insertion-ordered set of children,
// unique by name.
type Folder[N any] struct {
	Container[N]

	seq uint64

	// opMu serialises collision check, remote call and tree mutation for
	// operations whose destination is this folder. Uploads hold it only to
	// check and reserve their name in pending.
	opMu    sync.Mutex
	pending map[string]struct{}

	childMu  sync.RWMutex
	children []Node[N]
	index    map[string]Node[N]
	loaded   bool

	changes *event.Bus[Change, ChangeEvent[N]]
}

func newFolder[N any](s *Session[N], native N) *Folder[N] {
	f := &Folder[N]{
		seq:     folderSeq.Add(1),
		index:   make(map[string]Node[N]),
		pending: make(map[string]struct{}),
		changes: event.NewBus[Change, ChangeEvent[N]](s.logger),
	}
	f.init(s, native, f)

	return f
}

// Children returns the children in insertion order.
func (f *Folder[N]) Children() []Node[N] {
	f.childMu.RLock()
	defer f.childMu.RUnlock()

	return slices.Clone(f.children)
}

// Child returns the direct child with exactly this name, or nil.
func (f *Folder[N]) Child(name string) Node[N] {
	f.childMu.RLock()
	defer f.childMu.RUnlock()

	return f.index[name]
}

// Len returns the number of children.
func (f *Folder[N]) Len() int {
	f.childMu.RLock()
	defer f.childMu.RUnlock()

	return len(f.children)
}

// Loaded reports whether Load has populated the folder at least once.
func (f *Folder[N]) Loaded() bool {
	f.childMu.RLock()
	defer f.childMu.RUnlock()

	return f.loaded
}

// Add attaches a detached node as a child. It changes only the in-memory
// tree; use Upload, CreateFolder, Copy or Move to change the remote side.
func (f *Folder[N]) Add(node Node[N]) error {
	if node == nil {
		return csperr.Errorf(csperr.ErrOperation, "add", f.Path(), "nil node")
	}

	if node.Parent() != nil {
		return csperr.Errorf(csperr.ErrOperation, "add", node.Path(), "node already has a parent")
	}

	if sub, ok := node.(*Folder[N]); ok && isWithin(f, sub.base()) {
		return csperr.Errorf(csperr.ErrOperation, "add", node.Path(), "cannot add a folder to itself")
	}

	return f.attach(node)
}

func (f *Folder[N]) attach(node Node[N]) error {
	name := node.Name()

	f.childMu.Lock()
	if _, taken := f.index[name]; taken {
		f.childMu.Unlock()
		return csperr.Operation("add", joinPath(f.Path(), name), csperr.ErrExists)
	}

	f.children = append(f.children, node)
	f.index[name] = node
	f.childMu.Unlock()

	node.base().setParent(f)
	node.base().relocate(name, joinPath(f.Path(), name))

	f.notifyChange(ChangeAdded, node)

	return nil
}

func (f *Folder[N]) detach(node Node[N]) {
	f.childMu.Lock()

	i := slices.IndexFunc(f.children, func(n Node[N]) bool { return n.base() == node.base() })
	if i < 0 {
		f.childMu.Unlock()
		return
	}

	f.children = slices.Delete(f.children, i, i+1)

	if f.index[node.Name()] == node {
		delete(f.index, node.Name())
	}
	f.childMu.Unlock()

	node.base().setParent(nil)

	f.notifyChange(ChangeRemoved, node)
}

// rename moves node from oldName to newName in the index and relocates it.
func (f *Folder[N]) rename(node Node[N], oldName, newName string) error {
	f.childMu.Lock()
	if other, taken := f.index[newName]; taken && other.base() != node.base() {
		f.childMu.Unlock()
		return csperr.Operation("rename", joinPath(f.Path(), newName), csperr.ErrExists)
	}

	delete(f.index, oldName)
	f.index[newName] = node
	f.childMu.Unlock()

	node.base().relocate(newName, joinPath(f.Path(), newName))

	f.notifyChange(ChangeModified, node)

	return nil
}

// rekey updates the index after a refresh changed node's name.
func (f *Folder[N]) rekey(node Node[N], oldName string) {
	newName := node.Name()

	f.childMu.Lock()
	if f.index[oldName] == node {
		delete(f.index, oldName)
	}

	if _, taken := f.index[newName]; !taken {
		f.index[newName] = node
	}
	f.childMu.Unlock()

	f.notifyChange(ChangeModified, node)
}

// pathChanged re-derives every descendant's path from this folder's.
func (f *Folder[N]) pathChanged() {
	dir := f.Path()

	for _, child := range f.Children() {
		name := child.Name()
		child.base().relocate(name, joinPath(dir, name))
	}
}

// Load lists the folder's children from the provider and reconciles the
// in-memory set: new entries are added, known entries refreshed, and
// entries the provider no longer lists are removed.
func (f *Folder[N]) Load(ctx context.Context) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	natives, err := f.adapter.ListChildren(ctx, f.Path())
	if err != nil {
		return csperr.Access("list", f.Path(), err)
	}

	seen := make(map[string]bool, len(natives))

	for _, native := range natives {
		info := f.adapter.Describe(native)

		name := info.Name
		if name == "" {
			name = baseName(cleanPath(info.Path))
		}

		seen[name] = true

		existing := f.Child(name)
		switch {
		case existing == nil:
		case existing.IsFolder() == info.IsFolder:
			existing.base().updateInfo(native)
			f.notifyChange(ChangeModified, existing)

			continue
		default:
			f.detach(existing)
		}

		if err := f.attach(f.session.newNode(native)); err != nil {
			f.logger.Warn("skipping listed item",
				slog.String("path", joinPath(f.Path(), name)),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, child := range f.Children() {
		if !seen[child.Name()] {
			f.detach(child)
		}
	}

	f.childMu.Lock()
	f.loaded = true
	f.childMu.Unlock()

	f.logger.Debug("folder loaded",
		slog.String("path", f.Path()),
		slog.Int("children", len(natives)),
	)

	return nil
}

// CreateFolder creates a subfolder named name. Runs as a CREATE operation on
// this folder; with overwrite, a same-named child is deleted first.
func (f *Folder[N]) CreateFolder(ctx context.Context, name string, overwrite bool, l OperationListener[N]) (*Folder[N], error) {
	inv := f.begin(OpCreate, l)
	defer inv.end()

	if err := validName(name); err != nil {
		return nil, inv.fail(f.Path(), err)
	}

	f.opMu.Lock()
	defer f.opMu.Unlock()

	target := joinPath(f.Path(), name)

	if err := inv.clearCollision(ctx, f, name, overwrite); err != nil {
		return nil, err
	}

	inv.progress(0)

	native, err := f.adapter.CreateFolder(ctx, target)
	if err != nil {
		return nil, inv.fail(target, err)
	}

	sub, ok := f.session.newNode(native).(*Folder[N])
	if !ok {
		return nil, inv.fail(target, errors.New("provider returned a file for a new folder"))
	}

	if err := f.attach(sub); err != nil {
		return nil, inv.fail(target, err)
	}

	inv.complete()

	return sub, nil
}

// Remove deletes the child called name remotely and detaches it. Runs as a
// REMOVE operation on this folder.
func (f *Folder[N]) Remove(ctx context.Context, name string, l OperationListener[N]) error {
	inv := f.begin(OpRemove, l)
	defer inv.end()

	f.opMu.Lock()
	defer f.opMu.Unlock()

	target := joinPath(f.Path(), name)

	child := f.Child(name)
	if child == nil {
		return inv.fail(target, csperr.ErrNotFound)
	}

	inv.progress(0)

	if err := f.adapter.DeleteRemote(ctx, target); err != nil {
		return inv.fail(target, err)
	}

	f.detach(child)

	inv.complete()

	return nil
}

// AddChangeListener subscribes l to the given change kinds, or to all.
func (f *Folder[N]) AddChangeListener(l ChangeListener[N], changes ...Change) event.Subscription {
	return f.changes.AddListener(event.Listener[ChangeEvent[N]](l), changes...)
}

// RemoveChangeListener drops a subscription made with AddChangeListener.
func (f *Folder[N]) RemoveChangeListener(sub event.Subscription) bool {
	return f.changes.RemoveListener(sub)
}

// ClearChangeListeners removes change listeners for the given kinds, or all.
func (f *Folder[N]) ClearChangeListeners(changes ...Change) {
	if len(changes) == 0 {
		f.changes.ClearAll()
		return
	}

	for _, c := range changes {
		f.changes.Clear(c)
	}
}

func (f *Folder[N]) notifyChange(kind Change, changed Node[N]) {
	f.changes.Notify(kind, ChangeEvent[N]{Subject: f, Change: kind, Changed: changed})
}

// lockFolders takes the operation locks of a and b in a global order and
// returns the matching unlock.
func lockFolders[N any](a, b *Folder[N]) func() {
	if a == b {
		a.opMu.Lock()
		return a.opMu.Unlock
	}

	if a.seq > b.seq {
		a, b = b, a
	}

	a.opMu.Lock()
	b.opMu.Lock()

	return func() {
		b.opMu.Unlock()
		a.opMu.Unlock()
	}
}
