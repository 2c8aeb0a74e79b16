package cloud

// Operation names the CRUD action an OperationEvent reports on.
type Operation int

const (
	OpAdd Operation = iota
	OpRemove
	OpUpdate
	OpCreate
	OpCopy
	OpMove
	OpRename
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	case OpCreate:
		return "create"
	case OpCopy:
		return "copy"
	case OpMove:
		return "move"
	case OpRename:
		return "rename"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OperationState is the state of one operation invocation. Failed and
// Completed are terminal.
type OperationState int

const (
	InProgress OperationState = iota
	Failed
	Completed
)

func (s OperationState) String() string {
	switch s {
	case InProgress:
		return "IN_PROGRESS"
	case Failed:
		return "FAILED"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further event may follow s.
func (s OperationState) Terminal() bool { return s != InProgress }

// Change is the kind of content change a folder reports.
type Change int

const (
	ChangeAdded Change = iota
	ChangeRemoved
	ChangeModified
)

func (c Change) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Update is the kind of refresh a container reports.
type Update int

const (
	// UpdateInfo means the cached fields were recomputed from the native object.
	UpdateInfo Update = iota
	// UpdateSource means the native object was re-fetched from the provider.
	UpdateSource
)

func (u Update) String() string {
	if u == UpdateSource {
		return "source"
	}

	return "info"
}

// OperationEvent reports progress of one operation invocation. Every event
// of an invocation carries the same InvocationID.
type OperationEvent[N any] struct {
	InvocationID string
	Subject      Node[N]
	Operation    Operation
	State        OperationState
	Progress     float64
	Err          error // set when State is Failed
}

// ChangeEvent reports a change to a folder's children.
type ChangeEvent[N any] struct {
	Subject *Folder[N]
	Change  Change
	Changed Node[N]
}

// UpdateEvent reports that a container refreshed its cached state.
type UpdateEvent[N any] struct {
	Subject Node[N]
	Update  Update
}

// OperationListener receives operation events.
type OperationListener[N any] func(OperationEvent[N])

// ChangeListener receives folder change events.
type ChangeListener[N any] func(ChangeEvent[N])

// UpdateListener receives update events.
type UpdateListener[N any] func(UpdateEvent[N])
