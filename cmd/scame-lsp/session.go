package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dshills/scame/internal/lsp"
)

// errNoReply is returned when a request got no answer before --wait ran out.
var errNoReply = errors.New("no reply from language server")

// session is a manager with a set of opened files.
type session struct {
	m     *lsp.Manager
	paths map[lsp.BufferID]string
	// buffers maps the absolute path of each opened file to its buffer.
	buffers map[string]lsp.BufferID
}

// open reads files and opens each in its own buffer, numbered from 1.
// Relative paths are resolved against the workdir.
func (c *cli) open(files []string) (*session, error) {
	table, err := c.cfg.LanguageTable()
	if err != nil {
		return nil, err
	}

	type doc struct {
		path string
		text string
		lang lsp.Language
	}
	dir := c.workDir()
	docs := make([]doc, 0, len(files))
	for _, path := range files {
		spec, ok := table.Detect(path)
		if !ok {
			return nil, errors.Wrapf(lsp.ErrUnknownLanguage, "%s", path)
		}
		data, err := os.ReadFile(absPath(dir, path))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		docs = append(docs, doc{path: path, text: string(data), lang: spec.Language})
	}

	s := &session{
		m:       c.newManager(table),
		paths:   make(map[lsp.BufferID]string),
		buffers: make(map[string]lsp.BufferID),
	}
	for i, d := range docs {
		id := lsp.BufferID(i + 1)
		s.paths[id] = d.path
		s.buffers[absPath(dir, d.path)] = id
		if err := s.m.DidOpen(id, d.path, d.text, d.lang); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// buffer returns the buffer a file was opened in. Servers name documents by
// absolute path.
func (s *session) buffer(path string) (lsp.BufferID, bool) {
	id, ok := s.buffers[filepath.Clean(path)]
	return id, ok
}

// absPath resolves path the way the client builds document URIs.
func absPath(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return filepath.Clean(path)
		}
		dir = wd
	}
	return filepath.Join(dir, path)
}

// close shuts the manager down and waits briefly for the servers to exit.
func (s *session) close() {
	_ = s.m.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.m.Wait(ctx)
}

// until delivers events to fn until fn returns true, ctx is done or wait
// elapses. It reports whether fn finished the loop.
func (s *session) until(ctx context.Context, wait time.Duration, fn func(lsp.Event) bool) bool {
	var deadline <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case ev, ok := <-s.m.Events():
			if !ok {
				return false
			}
			if fn(ev) {
				return true
			}
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// parsePosition turns 1-based LINE and COL arguments into a Position.
func parsePosition(line, col string) (lsp.Position, error) {
	l, err := strconv.Atoi(line)
	if err != nil || l < 1 {
		return lsp.Position{}, errors.Newf("invalid line %q", line)
	}
	c, err := strconv.Atoi(col)
	if err != nil || c < 1 {
		return lsp.Position{}, errors.Newf("invalid column %q", col)
	}
	return lsp.Position{Line: l - 1, Column: c - 1}, nil
}
