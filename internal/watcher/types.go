// Package watcher delivers debounced file-change notifications for
// individual files.
//
// Each subscription has a leading-edge debounce gate. The first event after
// an idle period is handled immediately and opens a fixed window. Events that
// arrive inside the window are dropped. Editors and the kernel often report
// one save as several writes, and the gate turns those into one delivery.
package watcher

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a filesystem event.
type Kind int

const (
	// KindChange is a content modification.
	KindChange Kind = iota
	// KindRename is a rename or removal of the watched file.
	KindRename
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindChange:
		return "change"
	case KindRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Classify maps an fsnotify op to a Kind. Attribute-only changes report false.
func Classify(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindRename, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Create):
		return KindChange, true
	default:
		return 0, false
	}
}

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Kind      Kind
	Timestamp time.Time
}

// Handle releases watcher resources for a subscription.
type Handle interface {
	Close() error
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
}

// WatchSetupError reports a subscription that could not be established.
type WatchSetupError struct {
	Path string
	Err  error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("failed to watch %s: %v", e.Path, e.Err)
}

func (e *WatchSetupError) Unwrap() error {
	return e.Err
}
