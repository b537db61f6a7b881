package lsp

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/scame/internal/logging"
	"github.com/dshills/scame/internal/lsp/protocol"
)

// Outbound method names.
const (
	methodInitialize  = "initialize"
	methodInitialized = "initialized"
	methodShutdown    = "shutdown"
	methodExit        = "exit"
	methodDidOpen     = "textDocument/didOpen"
	methodDidChange   = "textDocument/didChange"
	methodDidSave     = "textDocument/didSave"
	methodDefinition  = "textDocument/definition"
	methodCompletion  = "textDocument/completion"
	methodDiagnostics = "textDocument/publishDiagnostics"
)

// DefaultCloseGrace bounds how long Close waits for shutdown and exit to be
// written before the process is killed.
const DefaultCloseGrace = 500 * time.Millisecond

// responseKind is the result shape expected for an outstanding request id.
type responseKind int

const (
	kindUnknown responseKind = iota
	kindDefinition
	kindCompletion
)

// Client is the connection to one language server process.
//
// Writes are serialized by a mutex. Reads happen only on the goroutine
// started by start, which performs the handshake and then runs the
// dispatcher until the server's stdout ends.
type Client struct {
	id       uuid.UUID
	language string
	buffer   BufferID
	command  Command
	workDir  string

	proc   Process
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]responseKind

	emit    func(Event)
	metrics *Metrics
	log     *logrus.Entry

	closeGrace time.Duration
	closeOnce  sync.Once
	closeErr   error

	defunct atomic.Bool
	done    chan struct{}
}

// clientConfig carries what a Client needs from its owner.
type clientConfig struct {
	language   string
	buffer     BufferID
	command    Command
	workDir    string
	emit       func(Event)
	metrics    *Metrics
	log        *logrus.Entry
	closeGrace time.Duration
}

func newClient(proc Process, cfg clientConfig) *Client {
	id := uuid.New()
	if cfg.emit == nil {
		cfg.emit = func(Event) {}
	}
	return &Client{
		id:         id,
		language:   cfg.language,
		buffer:     cfg.buffer,
		command:    cfg.command,
		workDir:    cfg.workDir,
		proc:       proc,
		reader:     bufio.NewReaderSize(proc.Stdout(), 64*1024),
		writer:     bufio.NewWriter(proc.Stdin()),
		nextID:     1,
		pending:    make(map[int64]responseKind),
		emit:       cfg.emit,
		metrics:    cfg.metrics,
		log:        logging.WithComponent(cfg.log, "lsp.client").WithFields(logrus.Fields{"language": cfg.language, "client": id.String()}),
		closeGrace: cfg.closeGrace,
		done:       make(chan struct{}),
	}
}

// ID returns the unique identifier of this client instance.
func (c *Client) ID() uuid.UUID { return c.id }

// Language returns the language identifier the client serves.
func (c *Client) Language() string { return c.language }

// Command returns the command the server process was started with.
func (c *Client) Command() Command { return c.command }

// Defunct reports whether the dispatcher has stopped reading.
func (c *Client) Defunct() bool { return c.defunct.Load() }

// Done is closed when the dispatcher exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// start runs the handshake and then the dispatcher on a single goroutine.
// The handshake result is delivered on ready before the dispatcher begins.
func (c *Client) start(ready chan<- error) {
	go func() {
		if err := c.handshake(); err != nil {
			c.defunct.Store(true)
			close(c.done)
			ready <- err
			return
		}
		ready <- nil
		c.dispatch()
	}()
}

// DidOpen sends textDocument/didOpen at version 1.
func (c *Client) DidOpen(path, content, languageID string) error {
	return c.notify(methodDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        c.uri(path),
			LanguageID: languageID,
			Version:    1,
			Text:       content,
		},
	})
}

// DidChange sends the full document text as textDocument/didChange.
func (c *Client) DidChange(path, content string, version int) error {
	return c.notify(methodDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: c.uri(path)},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: content}},
	})
}

// DidSave sends textDocument/didSave without text.
func (c *Client) DidSave(path string) error {
	return c.notify(methodDidSave, protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: c.uri(path)},
	})
}

// Definition sends textDocument/definition. The reply arrives as an event.
func (c *Client) Definition(path string, pos Position) error {
	_, err := c.request(methodDefinition, kindDefinition, protocol.DefinitionParams{
		TextDocumentPositionParams: c.positionParams(path, pos),
	})
	return err
}

// Completion sends textDocument/completion. The reply arrives as an event.
func (c *Client) Completion(path string, pos Position) error {
	_, err := c.request(methodCompletion, kindCompletion, protocol.CompletionParams{
		TextDocumentPositionParams: c.positionParams(path, pos),
	})
	return err
}

// Close asks the server to shut down and exit, then kills and reaps it.
// The shutdown and exit writes are not awaited past the close grace period.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if !c.Defunct() {
			sent := make(chan struct{})
			go func() {
				defer close(sent)
				if _, err := c.request(methodShutdown, kindUnknown, nil); err != nil {
					return
				}
				_ = c.notify(methodExit, nil)
			}()

			var grace <-chan time.Time
			if c.closeGrace > 0 {
				t := time.NewTimer(c.closeGrace)
				defer t.Stop()
				grace = t.C
			}
			select {
			case <-sent:
			case <-c.done:
			case <-grace:
				c.log.Debug("shutdown not written within grace period")
			}
		}

		c.closeErr = c.proc.Terminate()
		c.log.Debug("client closed")
	})
	return c.closeErr
}

// request writes a JSON-RPC request and records the expected reply kind.
func (c *Client) request(method string, kind responseKind, params any) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	id := c.nextID
	c.nextID++

	body, err := encodeRequest(id, method, params)
	if err != nil {
		return id, &WriteError{LanguageID: c.language, Method: method, Err: err}
	}

	if kind != kindUnknown {
		c.pendingMu.Lock()
		c.pending[id] = kind
		c.pendingMu.Unlock()
	}

	if err := c.writeLocked(method, body); err != nil {
		c.takePending(id)
		return id, err
	}
	return id, nil
}

func (c *Client) notify(method string, params any) error {
	body, err := encodeNotification(method, params)
	if err != nil {
		return &WriteError{LanguageID: c.language, Method: method, Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(method, body)
}

func (c *Client) writeLocked(method string, body []byte) error {
	if err := WriteMessage(c.writer, body); err != nil {
		return &WriteError{LanguageID: c.language, Method: method, Err: err}
	}
	c.metrics.frameWritten(c.language)
	c.log.WithFields(logrus.Fields{"method": method, "bytes": len(body)}).Debug("frame written")
	return nil
}

// takePending removes and returns the expected kind for id.
func (c *Client) takePending(id int64) responseKind {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	kind, ok := c.pending[id]
	if !ok {
		return kindUnknown
	}
	delete(c.pending, id)
	return kind
}

func (c *Client) uri(path string) protocol.DocumentURI {
	return protocol.FilePathToURI(absPath(c.workDir, path))
}

func (c *Client) positionParams(path string, pos Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: c.uri(path)},
		Position:     protocol.Position{Line: pos.Line, Character: pos.Column},
	}
}

// absPath resolves path against dir, or against the process working
// directory when dir is empty.
func absPath(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return path
		}
		dir = wd
	}
	return filepath.Join(dir, path)
}

// errClientDefunct is logged when a request targets a client whose
// dispatcher has exited.
var errClientDefunct = errors.New("language server connection closed")
