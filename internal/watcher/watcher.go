package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/itsmostafa/rerequire/internal/logging"
)

// DefaultDebounce is the debounce window used when Options.Debounce is unset.
const DefaultDebounce = time.Second

var (
	ErrAlreadyWatched = errors.New("path is already watched")
	ErrClosed         = errors.New("watcher is closed")
)

// Options controls watcher behavior.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher is the fsnotify-backed implementation. Callbacks run on the
// watcher's event goroutine and must not block for long.
type Watcher struct {
	watcher  *fsnotify.Watcher
	mutex    sync.Mutex
	subs     map[string]*subscription
	debounce time.Duration
	done     chan struct{}
	closed   bool
	logger   *slog.Logger

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

type subscription struct {
	owner    *Watcher
	path     string
	gate     *gate
	callback func(Event)
	once     sync.Once
}

// New creates a Watcher and starts its event goroutine.
func New(options Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewModuleLogger("watcher", "fsnotify")
	}

	w := &Watcher{
		watcher:  fsw,
		subs:     make(map[string]*subscription),
		debounce: debounce,
		done:     make(chan struct{}),
		logger:   logger,
	}
	go w.run()
	return w, nil
}

// Debounce returns the debounce window.
func (w *Watcher) Debounce() time.Duration {
	return w.debounce
}

// Watch subscribes callback to change events on the file at path. Rename and
// remove events still open the debounce window but are not delivered. When a
// file is back at path once the window closes, the watch is restored and a
// single change is delivered.
func (w *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, &WatchSetupError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &WatchSetupError{Path: path, Err: fmt.Errorf("not a regular file")}
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil, &WatchSetupError{Path: path, Err: ErrClosed}
	}
	if _, ok := w.subs[path]; ok {
		return nil, &WatchSetupError{Path: path, Err: ErrAlreadyWatched}
	}
	if err := w.watcher.Add(path); err != nil {
		return nil, &WatchSetupError{Path: path, Err: err}
	}

	sub := &subscription{
		owner:    w,
		path:     path,
		gate:     newGate(w.debounce),
		callback: callback,
	}
	w.subs[path] = sub
	w.logger.Debug("watch added", "path", path, "active_watches", len(w.subs))
	return sub, nil
}

// state reports the debounce state for path. Unwatched paths are idle.
func (w *Watcher) state(path string) State {
	w.mutex.Lock()
	sub := w.subs[filepath.Clean(path)]
	w.mutex.Unlock()
	if sub == nil {
		return StateIdle
	}
	return sub.gate.current()
}

// Close shuts down the watcher and every subscription.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}

	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	for _, sub := range w.subs {
		sub.gate.stop()
	}
	w.subs = make(map[string]*subscription)
	w.mutex.Unlock()

	close(w.done)
	return w.watcher.Close()
}

// Metrics reports current watcher stats.
func (w *Watcher) Metrics() Metrics {
	w.mutex.Lock()
	active := len(w.subs)
	w.mutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&w.eventsDelivered),
		EventsDropped:   atomic.LoadUint64(&w.eventsDropped),
		Errors:          atomic.LoadUint64(&w.errorCount),
	}
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			atomic.AddUint64(&w.errorCount, 1)
			w.logger.Warn("watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	kind, ok := Classify(event.Op)
	if !ok {
		return
	}

	w.mutex.Lock()
	sub := w.subs[filepath.Clean(event.Name)]
	w.mutex.Unlock()
	if sub == nil {
		return
	}

	if !sub.gate.admit() {
		atomic.AddUint64(&w.eventsDropped, 1)
		w.logger.Debug("event debounced", "path", sub.path, "op", event.Op.String())
		return
	}

	if kind == KindRename {
		w.logger.Warn("watched file renamed or removed", "path", sub.path, "op", event.Op.String())
		time.AfterFunc(w.debounce, sub.rewatch)
		return
	}

	sub.callback(Event{
		Path:      sub.path,
		Op:        event.Op,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	})
	atomic.AddUint64(&w.eventsDelivered, 1)
}

// rewatch re-registers the path after a rename or remove when a file exists
// there again, as happens with editors that save by renaming a temp file. The
// file at the path is new content, so one change is delivered for it.
func (s *subscription) rewatch() {
	w := s.owner
	w.mutex.Lock()
	if w.closed || w.subs[s.path] != s {
		w.mutex.Unlock()
		return
	}
	if _, err := os.Stat(s.path); err != nil {
		w.mutex.Unlock()
		w.logger.Warn("watch lost", "path", s.path, "error", err)
		return
	}
	if err := w.watcher.Add(s.path); err != nil {
		w.mutex.Unlock()
		w.logger.Warn("rewatch failed", "path", s.path, "error", err)
		return
	}
	w.mutex.Unlock()
	w.logger.Debug("watch restored", "path", s.path)

	// The rename itself was never delivered, so this change is delivered even
	// if the rename's window is still open. Follow-up writes fall into the
	// window admit opens here.
	_ = s.gate.admit()
	s.callback(Event{
		Path:      s.path,
		Op:        fsnotify.Create,
		Kind:      KindChange,
		Timestamp: time.Now().UTC(),
	})
	atomic.AddUint64(&w.eventsDelivered, 1)
}

// Close removes the subscription. It is safe to call more than once.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		w := s.owner
		s.gate.stop()

		w.mutex.Lock()
		defer w.mutex.Unlock()
		if w.subs[s.path] != s {
			return
		}
		delete(w.subs, s.path)
		if w.closed {
			return
		}
		if removeErr := w.watcher.Remove(s.path); removeErr != nil && !errors.Is(removeErr, fsnotify.ErrNonExistentWatch) {
			err = removeErr
		}
		w.logger.Debug("watch removed", "path", s.path, "active_watches", len(w.subs))
	})
	return err
}
