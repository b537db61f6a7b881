package lsp

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/scame/internal/logging"
)

// handler is the single consumer of the request queue. It owns the client
// registry; nothing else reads or writes clients.
type handler struct {
	requests   *queue[Request]
	emit       func(Event)
	table      *LanguageTable
	supervisor *Supervisor
	workDir    string
	closeGrace time.Duration
	metrics    *Metrics
	log        *logrus.Entry

	clients map[string]*Client
}

// run processes requests in order until a ShutdownRequest arrives or the
// queue closes, then closes every registered client.
func (h *handler) run() {
	defer h.closeAll()

	for {
		req, ok := h.requests.Pop()
		if !ok {
			return
		}
		h.log.WithFields(logrus.Fields{
			"request": req.requestMethod(),
			"queued":  h.requests.Len(),
		}).Trace("handling request")
		if _, stop := req.(ShutdownRequest); stop {
			h.log.Debug("shutdown requested")
			return
		}
		h.handle(req)
	}
}

func (h *handler) handle(req Request) {
	switch r := req.(type) {
	case DidOpenRequest:
		h.didOpen(r)
	case DidChangeRequest:
		if c := h.lookup(r.Path, r.requestMethod()); c != nil {
			h.swallow(c, r.requestMethod(), c.DidChange(r.Path, r.Content, r.Version))
		}
	case DidSaveRequest:
		if c := h.lookup(r.Path, r.requestMethod()); c != nil {
			h.swallow(c, r.requestMethod(), c.DidSave(r.Path))
		}
	case GotoDefinitionRequest:
		if c := h.lookup(r.Path, r.requestMethod()); c != nil {
			h.swallow(c, r.requestMethod(), c.Definition(r.Path, r.Position))
		}
	case CompletionRequest:
		if c := h.lookup(r.Path, r.requestMethod()); c != nil {
			h.swallow(c, r.requestMethod(), c.Completion(r.Path, r.Position))
		}
	case reconfigureRequest:
		h.table = r.table
		h.log.WithField("languages", len(r.table.Specs())).Info("language table replaced")
	default:
		h.log.WithField("request", req.requestMethod()).Warn("unhandled request")
	}
}

func (h *handler) didOpen(r DidOpenRequest) {
	spec, ok := h.table.Detect(r.Path)
	if !ok {
		h.metrics.dropped(dropUnknownLanguage)
		h.log.WithField("path", r.Path).Debug("no language server for file")
		return
	}

	key := spec.Language.ID()
	c, ok := h.clients[key]
	if !ok {
		var err error
		c, err = h.startClient(spec, r.Buffer)
		if err != nil {
			h.emit(ErrorEvent{Message: "Failed to start LSP client: " + err.Error(), Err: err})
			return
		}
		h.clients[key] = c
	}
	if c.Defunct() {
		h.metrics.dropped(dropDefunct)
		return
	}

	languageID := r.LanguageID
	if languageID == "" {
		languageID = key
	}
	h.swallow(c, r.requestMethod(), c.DidOpen(r.Path, r.Content, languageID))
}

// startClient spawns the server and waits for its handshake.
func (h *handler) startClient(spec ServerSpec, buffer BufferID) (*Client, error) {
	lang := spec.Language.ID()

	proc, cmd, err := h.supervisor.Start(spec)
	if err != nil {
		h.metrics.clientStart(lang, startOutcomeSpawnError)
		h.log.WithError(err).WithField("language", lang).Warn("language server spawn failed")
		return nil, err
	}

	c := newClient(proc, clientConfig{
		language:   lang,
		buffer:     buffer,
		command:    cmd,
		workDir:    h.workDir,
		emit:       h.emit,
		metrics:    h.metrics,
		log:        h.log,
		closeGrace: h.closeGrace,
	})

	ready := make(chan error, 1)
	c.start(ready)
	if err := <-ready; err != nil {
		_ = proc.Terminate()
		h.metrics.clientStart(lang, startOutcomeHandshakeError)
		h.log.WithError(err).WithField("language", lang).Warn("language server handshake failed")
		return nil, err
	}

	h.metrics.clientStart(lang, startOutcomeOK)
	h.log.WithFields(logrus.Fields{
		"language": lang,
		"client":   c.ID().String(),
		"command":  cmd.String(),
	}).Info("language server ready")
	return c, nil
}

// lookup returns the live client for path, or nil when the request
// should be dropped.
func (h *handler) lookup(path, method string) *Client {
	spec, ok := h.table.Detect(path)
	if !ok {
		h.metrics.dropped(dropUnknownLanguage)
		return nil
	}
	c, ok := h.clients[spec.Language.ID()]
	if !ok {
		h.metrics.dropped(dropNoClient)
		h.log.WithFields(logrus.Fields{"method": method, "language": spec.Language.ID()}).Debug("no client, dropping request")
		return nil
	}
	if c.Defunct() {
		h.metrics.dropped(dropDefunct)
		h.log.WithError(errClientDefunct).WithField("method", method).Debug("dropping request")
		return nil
	}
	return c
}

// swallow logs a write failure. Writes are fire-and-forget.
func (h *handler) swallow(c *Client, method string, err error) {
	if err == nil {
		return
	}
	h.metrics.dropped(dropWriteFailed)
	h.log.WithError(err).WithFields(logrus.Fields{
		"language": c.Language(),
		"method":   method,
	}).Warn("write to language server failed")
}

// closeAll tears down every client concurrently.
func (h *handler) closeAll() {
	var g errgroup.Group
	for lang, c := range h.clients {
		lang, c := lang, c
		g.Go(func() error {
			if err := c.Close(); err != nil {
				h.log.WithError(err).WithField("language", lang).Debug("close client")
			}
			return nil
		})
	}
	_ = g.Wait()
	h.clients = make(map[string]*Client)
}

func newHandler(requests *queue[Request], emit func(Event), table *LanguageTable, launch Launcher, workDir string, closeGrace time.Duration, metrics *Metrics, log *logrus.Entry) *handler {
	log = logging.WithComponent(log, "lsp.handler")
	return &handler{
		requests:   requests,
		emit:       emit,
		table:      table,
		supervisor: NewSupervisor(launch, workDir, log),
		workDir:    workDir,
		closeGrace: closeGrace,
		metrics:    metrics,
		log:        log,
		clients:    make(map[string]*Client),
	}
}
