package lsp

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/scame/internal/logging"
)

// Manager is the editor-facing entry point. Every request method enqueues
// and returns at once; results arrive on Events.
//
// All requests, for every language, pass through one ordered queue consumed
// by a single goroutine. A slow write to one server delays requests queued
// behind it for other servers.
type Manager struct {
	mu       sync.Mutex
	versions map[string]int

	requests *queue[Request]
	events   *queue[Event]
	out      chan Event
	done     chan struct{}

	metrics *Metrics
	log     *logrus.Entry
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	table      *LanguageTable
	launch     Launcher
	workDir    string
	closeGrace time.Duration
	metrics    *Metrics
	log        *logrus.Entry
}

// WithLanguageTable sets the launch table. Default: DefaultLanguageTable.
func WithLanguageTable(t *LanguageTable) ManagerOption {
	return func(c *managerConfig) {
		if t != nil {
			c.table = t
		}
	}
}

// WithLauncher replaces how server processes are started.
func WithLauncher(l Launcher) ManagerOption {
	return func(c *managerConfig) {
		if l != nil {
			c.launch = l
		}
	}
}

// WithWorkDir sets the directory used for the workspace root, relative
// paths and virtual environment detection. Default: the process working
// directory.
func WithWorkDir(dir string) ManagerOption {
	return func(c *managerConfig) {
		c.workDir = dir
	}
}

// WithCloseGrace sets how long teardown waits for shutdown and exit to be
// written to each server. Default: DefaultCloseGrace.
func WithCloseGrace(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.closeGrace = d
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) ManagerOption {
	return func(c *managerConfig) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) ManagerOption {
	return func(c *managerConfig) {
		c.log = log
	}
}

// NewManager creates a manager and starts its task handler.
func NewManager(opts ...ManagerOption) *Manager {
	cfg := managerConfig{
		table:      DefaultLanguageTable(),
		closeGrace: DefaultCloseGrace,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.launch == nil {
		cfg.launch = ExecLauncher(cfg.workDir)
	}

	m := &Manager{
		versions: make(map[string]int),
		requests: newQueue[Request](),
		events:   newQueue[Event](),
		out:      make(chan Event),
		done:     make(chan struct{}),
		metrics:  cfg.metrics,
		log:      logging.WithComponent(cfg.log, "lsp.manager"),
	}

	h := newHandler(m.requests, m.emit, cfg.table, cfg.launch, cfg.workDir, cfg.closeGrace, cfg.metrics, cfg.log)
	go m.pump()
	go func() {
		h.run()
		m.events.Close()
		close(m.done)
	}()

	return m
}

// Events returns the event stream. It is closed after Shutdown once every
// client has been torn down and pending events are delivered.
func (m *Manager) Events() <-chan Event {
	return m.out
}

// Done is closed when the task handler has exited and clients are closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// DidOpen records version 1 for path and enqueues the open.
func (m *Manager) DidOpen(buffer BufferID, path, content string, lang Language) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.requests.Closed() {
		return ErrShutdown
	}
	m.versions[path] = 1
	return m.enqueueLocked(DidOpenRequest{
		Buffer:     buffer,
		Path:       path,
		Content:    content,
		LanguageID: lang.ID(),
	})
}

// DidChange bumps the version of path and enqueues the full new text.
// A path that was never opened starts at version 1.
func (m *Manager) DidChange(buffer BufferID, path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.requests.Closed() {
		return ErrShutdown
	}
	m.versions[path]++
	return m.enqueueLocked(DidChangeRequest{
		Buffer:  buffer,
		Path:    path,
		Content: content,
		Version: m.versions[path],
	})
}

// DidSave enqueues a save notification.
func (m *Manager) DidSave(buffer BufferID, path string) error {
	return m.enqueue(DidSaveRequest{Buffer: buffer, Path: path})
}

// GotoDefinition enqueues a definition lookup.
func (m *Manager) GotoDefinition(buffer BufferID, path string, pos Position) error {
	return m.enqueue(GotoDefinitionRequest{Buffer: buffer, Path: path, Position: pos})
}

// Completion enqueues a completion request.
func (m *Manager) Completion(buffer BufferID, path string, pos Position) error {
	return m.enqueue(CompletionRequest{Buffer: buffer, Path: path, Position: pos})
}

// Reconfigure replaces the language table. Languages that already have a
// client keep it.
func (m *Manager) Reconfigure(table *LanguageTable) error {
	if table == nil {
		table = DefaultLanguageTable()
	}
	return m.enqueue(reconfigureRequest{table: table})
}

// Shutdown stops the task handler. Requests already queued are handled
// first; later calls return ErrShutdown. Clients are closed concurrently
// after the handler stops. Shutdown does not wait; see Wait.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enqueueLocked(ShutdownRequest{}); err != nil {
		return err
	}
	m.requests.Close()
	return nil
}

// Wait blocks until teardown completes or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Version returns the last version sent for path.
func (m *Manager) Version(path string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[path]
	return v, ok
}

func (m *Manager) enqueue(req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueLocked(req)
}

func (m *Manager) enqueueLocked(req Request) error {
	if !m.requests.Push(req) {
		return ErrShutdown
	}
	return nil
}

func (m *Manager) emit(ev Event) {
	if !m.events.Push(ev) {
		m.log.WithField("kind", ev.Kind()).Debug("event after shutdown dropped")
		return
	}
	m.metrics.event(ev.Kind())
}

// pump moves events from the unbounded queue to the output channel so
// producers never block on the editor.
func (m *Manager) pump() {
	defer close(m.out)
	for {
		ev, ok := m.events.Pop()
		if !ok {
			return
		}
		m.out <- ev
	}
}
