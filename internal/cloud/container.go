package cloud

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/event"
)

// Node is a File or a Folder.
type Node[N any] interface {
	ID() string
	Name() string
	Path() string
	Size() int64
	Modified() time.Time
	IsFolder() bool
	Parent() *Folder[N]
	Native() N
	Info() Info

	Copy(ctx context.Context, dest *Folder[N], overwrite bool, l OperationListener[N]) (Node[N], error)
	Move(ctx context.Context, dest *Folder[N], overwrite bool, l OperationListener[N]) error
	Rename(ctx context.Context, name string, overwrite bool, l OperationListener[N]) error
	Delete(ctx context.Context, l OperationListener[N]) error
	UpdateFromSource(ctx context.Context, l OperationListener[N]) error

	AddOperationListener(l OperationListener[N], ops ...Operation) event.Subscription
	RemoveOperationListener(sub event.Subscription) bool
	ClearOperationListeners(ops ...Operation)
	AddUpdateListener(l UpdateListener[N], updates ...Update) event.Subscription
	RemoveUpdateListener(sub event.Subscription) bool
	ClearUpdateListeners(updates ...Update)

	base() *Container[N]
	pathChanged()
}

// Container is the state shared by files and folders: identity, location,
// the native object it was built from, and its listener registries. It is
// embedded in File and Folder and never used on its own.
type Container[N any] struct {
	session *Session[N]
	adapter Adapter[N]
	logger  *slog.Logger
	self    Node[N]

	mu       sync.RWMutex
	id       string
	name     string
	path     string
	size     int64
	modified time.Time
	isFolder bool
	native   N
	parent   weak.Pointer[Folder[N]]

	operations *event.Bus[Operation, OperationEvent[N]]
	updates    *event.Bus[Update, UpdateEvent[N]]
}

func (c *Container[N]) init(s *Session[N], native N, self Node[N]) {
	c.session = s
	c.adapter = s.adapter
	c.logger = s.logger
	c.self = self
	c.operations = event.NewBus[Operation, OperationEvent[N]](s.logger)
	c.updates = event.NewBus[Update, UpdateEvent[N]](s.logger)
	c.applyNative(native, "")
}

// applyNative replaces the native object and recomputes the cached fields
// from it. A non-empty location overrides the path the adapter reported.
func (c *Container[N]) applyNative(native N, location string) {
	info := c.adapter.Describe(native)

	c.mu.Lock()
	c.native = native
	c.id = info.ID
	c.size = info.Size
	c.modified = info.Modified
	c.isFolder = info.IsFolder

	if location == "" {
		location = info.Path
	}

	c.path = cleanPath(location)
	c.name = baseName(c.path)
	c.mu.Unlock()
}

func (c *Container[N]) base() *Container[N] { return c }

// ID returns the provider-assigned identifier; it may be empty.
func (c *Container[N]) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.id
}

// Name returns the last path element ("/" for the root).
func (c *Container[N]) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.name
}

// Path returns the absolute slash-separated path.
func (c *Container[N]) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.path
}

// Size returns the size in bytes, 0 for folders or when unknown.
func (c *Container[N]) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.size
}

// Modified returns the last modification time the provider reported.
func (c *Container[N]) Modified() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.modified
}

// IsFolder reports whether the node is a folder.
func (c *Container[N]) IsFolder() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.isFolder
}

// Native returns the last-known native object. It is replaced wholesale on
// refresh and must not be mutated by callers.
func (c *Container[N]) Native() N {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.native
}

// Info returns a snapshot of the cached fields.
func (c *Container[N]) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Info{
		ID:       c.id,
		Name:     c.name,
		Path:     c.path,
		Size:     c.size,
		IsFolder: c.isFolder,
		Modified: c.modified,
	}
}

// Parent returns the owning folder, or nil for the root, a detached node,
// or a node whose tree is no longer referenced.
func (c *Container[N]) Parent() *Folder[N] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.parent.Value()
}

func (c *Container[N]) setParent(f *Folder[N]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f == nil {
		c.parent = weak.Pointer[Folder[N]]{}
		return
	}

	c.parent = weak.Make(f)
}

// relocate sets name and path, then lets the concrete node react (folders
// re-derive their children's paths, files drop their link).
func (c *Container[N]) relocate(name, p string) {
	c.mu.Lock()
	c.name = name
	c.path = p
	c.mu.Unlock()

	c.self.pathChanged()
}

// AddOperationListener subscribes l to the given operations, or to all of
// them when none are given.
func (c *Container[N]) AddOperationListener(l OperationListener[N], ops ...Operation) event.Subscription {
	return c.operations.AddListener(event.Listener[OperationEvent[N]](l), ops...)
}

// RemoveOperationListener drops a subscription made with AddOperationListener.
func (c *Container[N]) RemoveOperationListener(sub event.Subscription) bool {
	return c.operations.RemoveListener(sub)
}

// ClearOperationListeners removes the listeners registered for each given
// operation, or every operation listener when none is given.
func (c *Container[N]) ClearOperationListeners(ops ...Operation) {
	if len(ops) == 0 {
		c.operations.ClearAll()
		return
	}

	for _, op := range ops {
		c.operations.Clear(op)
	}
}

// AddUpdateListener subscribes l to the given update kinds, or to all.
func (c *Container[N]) AddUpdateListener(l UpdateListener[N], updates ...Update) event.Subscription {
	return c.updates.AddListener(event.Listener[UpdateEvent[N]](l), updates...)
}

// RemoveUpdateListener drops a subscription made with AddUpdateListener.
func (c *Container[N]) RemoveUpdateListener(sub event.Subscription) bool {
	return c.updates.RemoveListener(sub)
}

// ClearUpdateListeners removes update listeners for the given kinds, or all.
func (c *Container[N]) ClearUpdateListeners(updates ...Update) {
	if len(updates) == 0 {
		c.updates.ClearAll()
		return
	}

	for _, u := range updates {
		c.updates.Clear(u)
	}
}

func (c *Container[N]) notifyUpdate(u Update) {
	c.updates.Notify(u, UpdateEvent[N]{Subject: c.self, Update: u})
}

// updateInfo replaces the native object and recomputes the cached fields,
// keeping the node's location derived from its parent.
func (c *Container[N]) updateInfo(native N) {
	oldName := c.Name()
	location := ""

	parent := c.Parent()
	if parent != nil {
		info := c.adapter.Describe(native)

		name := info.Name
		if name == "" {
			name = baseName(cleanPath(info.Path))
		}

		location = joinPath(parent.Path(), name)
	}

	oldPath := c.Path()
	c.applyNative(native, location)

	if parent != nil && c.Name() != oldName {
		parent.rekey(c.self, oldName)
	}

	if c.Path() != oldPath {
		c.self.pathChanged()
	}

	c.notifyUpdate(UpdateInfo)
}

// UpdateFromSource re-fetches the native object from the provider, then
// recomputes the cached fields. Runs as an UPDATE operation.
func (c *Container[N]) UpdateFromSource(ctx context.Context, l OperationListener[N]) error {
	inv := c.begin(OpUpdate, l)
	defer inv.end()

	inv.progress(0)

	native, err := c.adapter.FetchMetadata(ctx, Ref{ID: c.ID(), Path: c.Path()})
	if err != nil {
		return inv.fail(c.Path(), err)
	}

	c.notifyUpdate(UpdateSource)
	c.updateInfo(native)

	inv.complete()

	return nil
}

// Copy copies the node into dest and returns the new node, attached to dest.
// With overwrite, a same-named child of dest is deleted first.
func (c *Container[N]) Copy(ctx context.Context, dest *Folder[N], overwrite bool, l OperationListener[N]) (Node[N], error) {
	inv := c.begin(OpCopy, l)
	defer inv.end()

	if dest == nil {
		return nil, inv.fail(c.Path(), errors.New("no destination folder"))
	}

	if c.IsFolder() && isWithin(dest, c) {
		return nil, inv.fail(dest.Path(), errors.New("cannot copy a folder into itself"))
	}

	dest.opMu.Lock()
	defer dest.opMu.Unlock()

	name := c.Name()
	target := joinPath(dest.Path(), name)

	if err := inv.clearCollision(ctx, dest, name, overwrite); err != nil {
		return nil, err
	}

	inv.progress(0)

	native, err := c.adapter.CopyRemote(ctx, c.Path(), target)
	if err != nil {
		return nil, inv.fail(target, err)
	}

	node := c.session.newNode(native)
	if err := dest.attach(node); err != nil {
		return nil, inv.fail(target, err)
	}

	inv.complete()

	return node, nil
}

// Move moves the node into dest. With overwrite, a same-named child of dest
// is deleted first. On success the node is detached from its old parent,
// attached to dest, and its path (and every descendant's) is recomputed.
func (c *Container[N]) Move(ctx context.Context, dest *Folder[N], overwrite bool, l OperationListener[N]) error {
	inv := c.begin(OpMove, l)
	defer inv.end()

	if dest == nil {
		return inv.fail(c.Path(), errors.New("no destination folder"))
	}

	if isWithin(dest, c) {
		return inv.fail(dest.Path(), errors.New("cannot move a folder into itself"))
	}

	parent := c.Parent()
	if parent == nil {
		return inv.fail(c.Path(), errors.New("cannot move a detached node or the root"))
	}

	unlock := lockFolders(parent, dest)
	defer unlock()

	if parent == dest {
		inv.complete()
		return nil
	}

	name := c.Name()
	oldPath := c.Path()
	target := joinPath(dest.Path(), name)

	if err := inv.clearCollision(ctx, dest, name, overwrite); err != nil {
		return err
	}

	inv.progress(0)

	if err := c.adapter.MoveRemote(ctx, oldPath, target); err != nil {
		return inv.fail(target, err)
	}

	parent.detach(c.self)

	if err := dest.attach(c.self); err != nil {
		return inv.fail(target, err)
	}

	c.refresh(ctx, target)

	inv.complete()

	return nil
}

// Rename renames the node within its parent. With overwrite, a sibling
// already using name is deleted first.
func (c *Container[N]) Rename(ctx context.Context, name string, overwrite bool, l OperationListener[N]) error {
	inv := c.begin(OpRename, l)
	defer inv.end()

	if err := validName(name); err != nil {
		return inv.fail(c.Path(), err)
	}

	parent := c.Parent()
	if parent == nil {
		return inv.fail(c.Path(), errors.New("cannot rename a detached node or the root"))
	}

	parent.opMu.Lock()
	defer parent.opMu.Unlock()

	oldName := c.Name()
	if oldName == name {
		inv.complete()
		return nil
	}

	oldPath := c.Path()
	target := joinPath(parent.Path(), name)

	if err := inv.clearCollision(ctx, parent, name, overwrite); err != nil {
		return err
	}

	inv.progress(0)

	if err := c.adapter.MoveRemote(ctx, oldPath, target); err != nil {
		return inv.fail(target, err)
	}

	if err := parent.rename(c.self, oldName, name); err != nil {
		return inv.fail(target, err)
	}

	c.refresh(ctx, target)

	inv.complete()

	return nil
}

// Delete deletes the node remotely and detaches it from its parent.
func (c *Container[N]) Delete(ctx context.Context, l OperationListener[N]) error {
	return c.deleteNode(ctx, l, true)
}

// deleteNode runs DELETE. lockParent is false for the nested delete of a
// collision, whose caller already holds the parent's operation lock.
func (c *Container[N]) deleteNode(ctx context.Context, l OperationListener[N], lockParent bool) error {
	inv := c.begin(OpDelete, l)
	defer inv.end()

	p := c.Path()
	if p == "/" {
		return inv.fail(p, errors.New("cannot delete the root folder"))
	}

	parent := c.Parent()
	if lockParent && parent != nil {
		parent.opMu.Lock()
		defer parent.opMu.Unlock()
	}

	inv.progress(0)

	if err := c.adapter.DeleteRemote(ctx, p); err != nil {
		return inv.fail(p, err)
	}

	if parent != nil {
		parent.detach(c.self)
	}

	inv.complete()

	return nil
}

// refresh re-fetches the native object after a move or rename. The remote
// action already succeeded, so a failed fetch is logged and the node keeps
// its old native object with the new location.
func (c *Container[N]) refresh(ctx context.Context, target string) {
	native, err := c.adapter.FetchMetadata(ctx, Ref{Path: target})
	if err != nil {
		c.logger.Debug("refresh after relocation failed",
			slog.String("path", target),
			slog.String("error", err.Error()),
		)

		return
	}

	c.updateInfo(native)
}

// isWithin reports whether f is c or a descendant of c.
func isWithin[N any](f *Folder[N], c *Container[N]) bool {
	for p := f; p != nil; p = p.Parent() {
		if p.base() == c {
			return true
		}
	}

	return false
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return csperr.Errorf(csperr.ErrOperation, "validate name", "", "invalid name %q", name)
	case strings.Contains(name, "/"):
		return csperr.Errorf(csperr.ErrOperation, "validate name", "", "name %q contains a slash", name)
	}

	return nil
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}

	return joinPath("/", p)
}

func baseName(p string) string {
	if p == "/" {
		return "/"
	}

	return p[strings.LastIndex(p, "/")+1:]
}
