// Package watcher reports changes to a configuration file.
//
// The parent directory is watched rather than the file itself so that
// editors which save by renaming a temporary file over the original are
// still seen. Bursts of events are coalesced into one notification.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dshills/scame/internal/logging"
)

// DefaultDebounce is how long the file must stay quiet before a change is
// reported.
const DefaultDebounce = 100 * time.Millisecond

// Operation is the kind of change that was observed last in a burst.
type Operation int

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = iota
	// OpCreate indicates the file was created or renamed into place.
	OpCreate
	// OpRemove indicates the file was deleted or renamed away.
	OpRemove
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event describes a settled change to the watched file.
type Event struct {
	Path string
	Op   Operation
}

// Handler is called once per settled burst of changes.
type Handler func(Event)

// Watcher monitors one file for changes.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	pending *Event
	timer   *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Zero reports every event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// New creates a watcher for path.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}
	w := &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.WithComponent(w.log, "config.watcher").WithField("path", abs)
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run watches until ctx is done, calling fn for each settled change.
// fn runs on a timer goroutine and never concurrently with itself.
func (w *Watcher) Run(ctx context.Context, fn Handler) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating fsnotify watcher")
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}
	w.log.Debug("watching config file")

	var fnMu sync.Mutex
	deliver := func(ev Event) {
		fnMu.Lock()
		defer fnMu.Unlock()
		fn(ev)
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			op, ok := operation(ev.Op)
			if !ok {
				continue
			}
			w.log.WithField("op", ev.Op.String()).Trace("file event")
			w.queue(Event{Path: w.path, Op: op}, deliver)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

// operation maps an fsnotify op to an Operation. Chmod is ignored.
func operation(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpRemove, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpWrite, true
	default:
		return 0, false
	}
}

// queue records ev and restarts the quiet period. A create that follows a
// remove within one burst is reported as a create.
func (w *Watcher) queue(ev Event, deliver func(Event)) {
	if w.debounce == 0 {
		deliver(ev)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil && w.pending.Op == OpCreate && ev.Op == OpWrite {
		ev.Op = OpCreate
	}
	w.pending = &ev

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		pending := w.pending
		w.pending = nil
		w.mu.Unlock()
		if pending != nil {
			deliver(*pending)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = nil
}
