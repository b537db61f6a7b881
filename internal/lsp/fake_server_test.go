package lsp

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

const defaultInitReply = `{"jsonrpc":"2.0","id":1,"result":{"capabilities":{"completionProvider":{}},"serverInfo":{"name":"fake"}}}`

// fakeProcess is an in-memory language server process made of two pipes.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	terminated atomic.Bool
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	p.stdinW.Close()
	p.stdinR.Close()
	p.stdoutW.Close()
	return nil
}

// fakeServer drives the server side of a fakeProcess.
type fakeServer struct {
	cmd  Command
	env  []string
	proc *fakeProcess
	in   *bufio.Reader

	// initReply answers initialize. Empty closes stdout instead.
	initReply string
	// stall, when set, delays reading past the handshake until closed.
	stall chan struct{}

	frames chan gjson.Result
	writes atomic.Int64
}

func newFakeServer(cmd Command, env []string) *fakeServer {
	proc := newFakeProcess()
	return &fakeServer{
		cmd:       cmd,
		env:       env,
		proc:      proc,
		in:        bufio.NewReader(proc.stdinR),
		initReply: defaultInitReply,
		frames:    make(chan gjson.Result, 256),
	}
}

// run answers the handshake and then records every frame it reads.
func (s *fakeServer) run() {
	defer close(s.frames)

	body, err := ReadMessage(s.in)
	if err != nil {
		return
	}
	s.writes.Add(1)
	s.frames <- gjson.ParseBytes(body)

	if s.initReply == "" {
		s.proc.stdoutW.Close()
		return
	}
	if err := WriteMessage(s.proc.stdoutW, []byte(s.initReply)); err != nil {
		return
	}

	for first := true; ; first = false {
		if !first && s.stall != nil {
			<-s.stall
			s.stall = nil
		}
		body, err := ReadMessage(s.in)
		if err != nil {
			return
		}
		s.writes.Add(1)
		s.frames <- gjson.ParseBytes(body)
	}
}

// send writes body to the client's stdout.
func (s *fakeServer) send(t *testing.T, body string) {
	t.Helper()
	if err := WriteMessage(s.proc.stdoutW, []byte(body)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// next returns the next recorded frame.
func (s *fakeServer) next(t *testing.T) gjson.Result {
	t.Helper()
	select {
	case f, ok := <-s.frames:
		if !ok {
			t.Fatal("server stopped reading")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return gjson.Result{}
}

// nextMethod skips frames until one with method arrives.
func (s *fakeServer) nextMethod(t *testing.T, method string) gjson.Result {
	t.Helper()
	for {
		f := s.next(t)
		if f.Get("method").String() == method {
			return f
		}
	}
}

// methods drains frames until the server stops reading.
func (s *fakeServer) methods(t *testing.T) []string {
	t.Helper()
	var out []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-s.frames:
			if !ok {
				return out
			}
			out = append(out, f.Get("method").String())
		case <-timeout:
			t.Fatal("server did not stop")
		}
	}
}

// fakeLauncher starts fakeServers and records every launch attempt.
type fakeLauncher struct {
	mu      sync.Mutex
	calls   []launchCall
	failing map[string]bool
	setup   map[string]func(*fakeServer)
	started chan *fakeServer
}

type launchCall struct {
	cmd Command
	env []string
}

func newFakeLauncher(failing ...string) *fakeLauncher {
	l := &fakeLauncher{
		failing: make(map[string]bool),
		setup:   make(map[string]func(*fakeServer)),
		started: make(chan *fakeServer, 16),
	}
	for _, name := range failing {
		l.failing[name] = true
	}
	return l
}

func (l *fakeLauncher) launch(c Command, env []string) (Process, error) {
	l.mu.Lock()
	l.calls = append(l.calls, launchCall{cmd: c, env: append([]string(nil), env...)})
	fail := l.failing[c.Name]
	setup := l.setup[c.Name]
	l.mu.Unlock()

	if fail {
		return nil, errors.Wrapf(exec.ErrNotFound, "exec: %q", c.Name)
	}

	srv := newFakeServer(c, env)
	if setup != nil {
		setup(srv)
	}
	go srv.run()
	l.started <- srv
	return srv.proc, nil
}

func (l *fakeLauncher) Calls() []launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launchCall(nil), l.calls...)
}

// server waits for the next started server.
func (l *fakeLauncher) server(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case s := <-l.started:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no server started")
	}
	return nil
}

// nextEvent reads one event from ch.
func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

// noEvent asserts that nothing arrives on ch for a short while.
func noEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %T: %+v", ev, ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}
