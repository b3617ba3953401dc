// Package watcher defines the change-notification primitive consumed by
// the watch-session pool, together with an fsnotify-backed implementation.
package watcher

import "time"

// EventKind classifies a filesystem change notification.
type EventKind int

const (
	// KindAdded is a new file appearing under the watched path.
	KindAdded EventKind = iota
	// KindChanged is a content modification of an existing file.
	KindChanged
	// KindRemoved is a file deletion or rename-away.
	KindRemoved
	// KindDirAdded is a new directory appearing under the watched path.
	KindDirAdded
	// KindDirRemoved is a directory deletion or rename-away.
	KindDirRemoved
	// KindError carries a failure of the underlying notification
	// primitive. It does not terminate the subscription.
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindChanged:
		return "changed"
	case KindRemoved:
		return "removed"
	case KindDirAdded:
		return "dir_added"
	case KindDirRemoved:
		return "dir_removed"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one normalized filesystem change notification.
type Event struct {
	Kind      EventKind
	Path      string
	Timestamp time.Time
	Err       error // set only for KindError
}

// Subscription is one live stream of change events for a path. The
// events channel is closed when the subscription is closed; consumers
// terminate by ranging over it.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Notifier is the abstract change-notification primitive. Recursive
// subscriptions report changes at arbitrary depth below the path;
// non-recursive subscriptions report depth-0 only.
type Notifier interface {
	Subscribe(path string, recursive bool) (Subscription, error)
}
