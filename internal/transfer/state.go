// Package transfer models one upload or download as a Job whose progress is
// reported either pushed by the code moving the bytes (ProgressReader,
// Report) or polled from the size of a growing local file (PollMonitor).
// Every job walks INITIALISED → IN_PROGRESS* → one terminal state, and the
// terminal notification is delivered exactly once.
package transfer

import "path/filepath"

// State is the transfer state machine.
type State int

// Transfer states. Cancelled, Failed and Completed are terminal.
const (
	Initialised State = iota
	InProgress
	Cancelled
	Failed
	Completed
)

func (s State) String() string {
	switch s {
	case Initialised:
		return "INITIALISED"
	case InProgress:
		return "IN_PROGRESS"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further notification may follow s.
func (s State) Terminal() bool {
	return s == Cancelled || s == Failed || s == Completed
}

// Direction says which way the bytes flow.
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}

	return "download"
}

// Endpoint is either side of a transfer: a remote container or a local file.
type Endpoint interface {
	Name() string
	Path() string
}

// LocalFile is an Endpoint for a path on the local filesystem.
type LocalFile string

// Name returns the base name of the local path.
func (f LocalFile) Name() string { return filepath.Base(string(f)) }

// Path returns the local path as given.
func (f LocalFile) Path() string { return string(f) }

// Event is delivered to transfer listeners on every state transition and
// progress sample.
type Event struct {
	JobID       string
	Direction   Direction
	Source      Endpoint
	Destination Endpoint
	State       State
	Progress    float64 // in [0,1]
	Bytes       int64   // bytes moved so far, when known
	Total       int64   // expected bytes, 0 if unknown
	Err         error   // set on Failed and Cancelled
}
