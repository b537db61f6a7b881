package lsp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scame/internal/logging"
)

type managerFixture struct {
	m       *Manager
	l       *fakeLauncher
	metrics *Metrics
	dir     string
}

func newManagerFixture(t *testing.T, l *fakeLauncher, opts ...ManagerOption) *managerFixture {
	t.Helper()
	if l == nil {
		l = newFakeLauncher()
	}
	f := &managerFixture{
		l:       l,
		metrics: NewMetrics(prometheus.NewRegistry()),
		dir:     t.TempDir(),
	}
	base := []ManagerOption{
		WithLauncher(l.launch),
		WithWorkDir(f.dir),
		WithLogger(logging.Discard()),
		WithCloseGrace(time.Second),
		WithMetrics(f.metrics),
	}
	f.m = NewManager(append(base, opts...)...)

	t.Cleanup(func() {
		_ = f.m.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.m.Wait(ctx)
	})
	return f
}

func (f *managerFixture) events() <-chan Event { return f.m.Events() }

// openRust opens a Rust file and returns the server after it saw didOpen.
func (f *managerFixture) openRust(t *testing.T, buffer BufferID, path string) *fakeServer {
	t.Helper()
	require.NoError(t, f.m.DidOpen(buffer, path, "fn main() {}\n", LanguageRust))
	srv := f.l.server(t)
	srv.nextMethod(t, methodDidOpen)
	return srv
}

func TestManager_VersionsIncrement(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.DidOpen(1, "/src/a.rs", "", LanguageRust))
	v, ok := f.m.Version("/src/a.rs")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	for _, text := range []string{"a", "ab", "abc"} {
		require.NoError(t, f.m.DidChange(1, "/src/a.rs", text))
	}
	v, _ = f.m.Version("/src/a.rs")
	assert.Equal(t, 4, v)

	srv := f.l.server(t)
	open := srv.nextMethod(t, methodDidOpen)
	assert.Equal(t, int64(1), open.Get("params.textDocument.version").Int())
	for i, want := range []int64{2, 3, 4} {
		ch := srv.nextMethod(t, methodDidChange)
		assert.Equal(t, want, ch.Get("params.textDocument.version").Int(), "change %d", i)
		require.Len(t, ch.Get("params.contentChanges").Array(), 1)
	}

	// Reopening resets the version.
	require.NoError(t, f.m.DidOpen(1, "/src/a.rs", "", LanguageRust))
	v, _ = f.m.Version("/src/a.rs")
	assert.Equal(t, 1, v)
}

func TestManager_ChangeBeforeOpenStartsAtOne(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.DidChange(1, "/src/never.rs", "x"))
	v, ok := f.m.Version("/src/never.rs")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = f.m.Version("/src/other.rs")
	assert.False(t, ok)
}

func TestManager_CompletionScenario(t *testing.T) {
	f := newManagerFixture(t, nil)
	srv := f.openRust(t, 1, "/src/main.rs")

	require.NoError(t, f.m.Completion(1, "/src/main.rs", Position{Line: 0, Column: 3}))
	req := srv.nextMethod(t, methodCompletion)
	assert.Equal(t, int64(2), req.Get("id").Int())

	srv.send(t, `{"jsonrpc":"2.0","id":2,"result":{"items":[{"label":"foo"}]}}`)

	ev := nextEvent(t, f.events())
	comp, ok := ev.(CompletionEvent)
	require.True(t, ok, "got %T", ev)
	require.Len(t, comp.Items, 1)
	assert.Equal(t, "foo", comp.Items[0].Label)
	assert.Equal(t, "foo", comp.Items[0].InsertText)
	assert.Nil(t, comp.Items[0].Kind)
	assert.Nil(t, comp.Items[0].Detail)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ClientStarts.WithLabelValues("rust", startOutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Events.WithLabelValues("completion")))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.FramesWritten.WithLabelValues("rust")) == 4
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.FramesRead.WithLabelValues("rust")))
}

func TestManager_ErrorScenario(t *testing.T) {
	f := newManagerFixture(t, nil)
	srv := f.openRust(t, 1, "/src/main.rs")

	require.NoError(t, f.m.GotoDefinition(1, "/src/main.rs", Position{}))
	srv.nextMethod(t, methodDefinition)
	srv.send(t, `{"jsonrpc":"2.0","id":3,"error":{"message":"boom"}}`)

	ev := nextEvent(t, f.events())
	errEv, ok := ev.(ErrorEvent)
	require.True(t, ok, "got %T", ev)
	assert.Contains(t, errEv.Message, "boom")
	noEvent(t, f.events())
}

func TestManager_GotoDefinition(t *testing.T) {
	f := newManagerFixture(t, nil)
	srv := f.openRust(t, 1, "/src/main.rs")

	require.NoError(t, f.m.GotoDefinition(1, "/src/main.rs", Position{Line: 4, Column: 8}))
	req := srv.nextMethod(t, methodDefinition)
	assert.Equal(t, int64(4), req.Get("params.position.line").Int())
	assert.Equal(t, int64(8), req.Get("params.position.character").Int())

	srv.send(t, `{"jsonrpc":"2.0","id":`+req.Get("id").Raw+`,"result":[{"uri":"file:///src/lib.rs","range":{"start":{"line":9,"character":2},"end":{"line":9,"character":5}}}]}`)

	ev := nextEvent(t, f.events())
	def, ok := ev.(GotoDefinitionEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, Location{Path: "/src/lib.rs", Position: Position{Line: 9, Column: 2}}, def.Location)
}

func TestManager_ClientReusedPerLanguage(t *testing.T) {
	f := newManagerFixture(t, nil)
	srv := f.openRust(t, 1, "/src/main.rs")

	require.NoError(t, f.m.DidOpen(2, "/src/lib.rs", "", LanguageRust))
	open := srv.nextMethod(t, methodDidOpen)
	assert.Equal(t, "file:///src/lib.rs", open.Get("params.textDocument.uri").String())
	assert.Len(t, f.l.Calls(), 1)
}

func TestManager_FallbackSpawn(t *testing.T) {
	f := newManagerFixture(t, newFakeLauncher("pyright-langserver"))

	require.NoError(t, f.m.DidOpen(1, "/src/app.py", "import os\n", LanguagePython))
	srv := f.l.server(t)
	assert.Equal(t, "pyright", srv.cmd.Name)
	assert.Equal(t, []string{"--stdio"}, srv.cmd.Args)

	open := srv.nextMethod(t, methodDidOpen)
	assert.Equal(t, "python", open.Get("params.textDocument.languageId").String())
	noEvent(t, f.events())
}

func TestManager_SpawnFailure(t *testing.T) {
	f := newManagerFixture(t, newFakeLauncher("pyright-langserver", "pyright", "pylsp"))

	require.NoError(t, f.m.DidOpen(1, "/src/app.py", "", LanguagePython))

	ev := nextEvent(t, f.events())
	errEv, ok := ev.(ErrorEvent)
	require.True(t, ok, "got %T", ev)
	assert.True(t, strings.HasPrefix(errEv.Message, "Failed to start LSP client: "), errEv.Message)
	assert.Contains(t, errEv.Message, "pip install pyright")

	var spawnErr *ProcessSpawnError
	require.True(t, errors.As(errEv.Err, &spawnErr))
	assert.Len(t, spawnErr.Attempts, 3)

	// Requests for the language are dropped without further events.
	require.NoError(t, f.m.Completion(1, "/src/app.py", Position{}))
	noEvent(t, f.events())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ClientStarts.WithLabelValues("python", startOutcomeSpawnError)))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RequestsDropped.WithLabelValues(dropNoClient)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_HandshakeFailure(t *testing.T) {
	l := newFakeLauncher()
	l.setup["rust-analyzer"] = func(s *fakeServer) {
		s.initReply = `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"not ready"}}`
	}
	f := newManagerFixture(t, l)

	require.NoError(t, f.m.DidOpen(1, "/src/main.rs", "", LanguageRust))
	srv := f.l.server(t)

	ev := nextEvent(t, f.events())
	errEv, ok := ev.(ErrorEvent)
	require.True(t, ok, "got %T", ev)
	assert.Contains(t, errEv.Message, "not ready")

	var he *HandshakeError
	require.True(t, errors.As(errEv.Err, &he))
	assert.True(t, srv.proc.terminated.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ClientStarts.WithLabelValues("rust", startOutcomeHandshakeError)))
}

func TestManager_UnknownLanguageIgnored(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.DidOpen(1, "/docs/README.md", "# hi", LanguageUnknown))
	require.NoError(t, f.m.Completion(1, "/docs/README.md", Position{}))
	noEvent(t, f.events())

	assert.Empty(t, f.l.Calls())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RequestsDropped.WithLabelValues(dropUnknownLanguage)) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestManager_RequestWithoutClientDropped(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.GotoDefinition(1, "/src/main.rs", Position{}))
	require.NoError(t, f.m.DidSave(1, "/src/main.rs"))
	noEvent(t, f.events())

	assert.Empty(t, f.l.Calls())
}

func TestManager_DiagnosticsTagged(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.DidOpen(9, "/proj/b.py", "x =\n", LanguagePython))
	srv := f.l.server(t)
	srv.nextMethod(t, methodDidOpen)

	srv.send(t, `{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{
		"uri":"file:///proj/b.py",
		"diagnostics":[{"range":{"start":{"line":0,"character":3},"end":{"line":0,"character":4}},"severity":1,"message":"expected expression"}]}}`)

	ev := nextEvent(t, f.events())
	diags, ok := ev.(DiagnosticsEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, BufferID(9), diags.Buffer)
	assert.Equal(t, "/proj/b.py", diags.Path)
	require.Len(t, diags.Diagnostics, 1)
	assert.Equal(t, SeverityError, diags.Diagnostics[0].Severity)

	store := NewDiagnosticsStore()
	store.Apply(diags)
	assert.Len(t, store.Get(9), 1)
}

func TestManager_VirtualEnv(t *testing.T) {
	l := newFakeLauncher()
	f := newManagerFixture(t, l)
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, ".venv"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "venv"), 0o755))

	require.NoError(t, f.m.DidOpen(1, "app.py", "", LanguagePython))
	srv := l.server(t)

	assert.Contains(t, srv.env, "VIRTUAL_ENV="+filepath.Join(f.dir, ".venv"))

	open := srv.nextMethod(t, methodDidOpen)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(f.dir, "app.py")), open.Get("params.textDocument.uri").String())
}

func TestManager_ShutdownStopsForwarding(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.DidOpen(1, "/src/main.rs", "", LanguageRust))
	require.NoError(t, f.m.DidChange(1, "/src/main.rs", "fn main() { }"))
	require.NoError(t, f.m.Shutdown())

	assert.ErrorIs(t, f.m.DidChange(1, "/src/main.rs", "late"), ErrShutdown)
	assert.ErrorIs(t, f.m.Completion(1, "/src/main.rs", Position{}), ErrShutdown)
	assert.ErrorIs(t, f.m.DidOpen(2, "/src/x.rs", "", LanguageRust), ErrShutdown)
	assert.ErrorIs(t, f.m.Shutdown(), ErrShutdown)

	srv := f.l.server(t)
	assert.Equal(t, []string{
		methodInitialize,
		methodInitialized,
		methodDidOpen,
		methodDidChange,
		methodShutdown,
		methodExit,
	}, srv.methods(t))
	assert.True(t, srv.proc.terminated.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.m.Wait(ctx))

	select {
	case ev, ok := <-f.events():
		assert.False(t, ok, "unexpected event %+v", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not closed")
	}

	v, _ := f.m.Version("/src/main.rs")
	assert.Equal(t, 2, v, "rejected change must not bump the version")
}

func TestManager_SerializedAcrossLanguages(t *testing.T) {
	l := newFakeLauncher()
	stall := make(chan struct{})
	l.setup["rust-analyzer"] = func(s *fakeServer) { s.stall = stall }
	f := newManagerFixture(t, l)

	require.NoError(t, f.m.DidOpen(1, "/src/main.rs", "", LanguageRust))
	rust := l.server(t)

	// The rust server stops reading, so the queued python open waits
	// behind the blocked didOpen write.
	require.NoError(t, f.m.DidOpen(2, "/src/app.py", "", LanguagePython))
	select {
	case s := <-l.started:
		t.Fatalf("%s started while the handler was blocked", s.cmd.Name)
	case <-time.After(150 * time.Millisecond):
	}

	close(stall)
	rust.nextMethod(t, methodDidOpen)
	py := l.server(t)
	assert.Equal(t, "pyright-langserver", py.cmd.Name)
	py.nextMethod(t, methodDidOpen)
}

func TestManager_LanguagesIndependent(t *testing.T) {
	f := newManagerFixture(t, nil)
	rust := f.openRust(t, 1, "/src/main.rs")

	require.NoError(t, f.m.DidOpen(2, "/src/app.py", "", LanguagePython))
	py := f.l.server(t)
	py.nextMethod(t, methodDidOpen)

	// The rust server goes away.
	require.NoError(t, rust.proc.stdoutW.Close())
	require.Eventually(t, func() bool {
		_ = f.m.DidSave(1, "/src/main.rs")
		return testutil.ToFloat64(f.metrics.RequestsDropped.WithLabelValues(dropDefunct)) > 0
	}, 2*time.Second, 20*time.Millisecond)
	noEvent(t, f.events())

	require.NoError(t, f.m.Completion(2, "/src/app.py", Position{Line: 1}))
	req := py.nextMethod(t, methodCompletion)
	py.send(t, `{"jsonrpc":"2.0","id":`+req.Get("id").Raw+`,"result":[{"label":"path","kind":9}]}`)

	ev := nextEvent(t, f.events())
	comp, ok := ev.(CompletionEvent)
	require.True(t, ok, "got %T", ev)
	require.Len(t, comp.Items, 1)
	require.NotNil(t, comp.Items[0].Kind)
	assert.Equal(t, CompletionKindModule, *comp.Items[0].Kind)
}

func TestManager_OversizedFrameStopsOnlyThatClient(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	f := newManagerFixture(t, nil, WithLogger(logrus.NewEntry(log)))
	rust := f.openRust(t, 1, "/src/main.rs")

	require.NoError(t, f.m.DidOpen(2, "/src/app.py", "", LanguagePython))
	py := f.l.server(t)
	py.nextMethod(t, methodDidOpen)

	go func() {
		_, _ = rust.proc.stdoutW.Write([]byte("Content-Length: 9223372036854775807\r\n\r\n{}"))
	}()
	require.Eventually(t, func() bool {
		_ = f.m.DidSave(1, "/src/main.rs")
		return testutil.ToFloat64(f.metrics.RequestsDropped.WithLabelValues(dropDefunct)) > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, f.m.GotoDefinition(2, "/src/app.py", Position{Line: 3}))
	req := py.nextMethod(t, methodDefinition)
	py.send(t, `{"jsonrpc":"2.0","id":`+req.Get("id").Raw+`,"result":{"uri":"file:///src/os.py","range":{"start":{"line":7,"character":0},"end":{"line":7,"character":3}}}}`)

	ev := nextEvent(t, f.events())
	def, ok := ev.(GotoDefinitionEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "/src/os.py", def.Location.Path)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "malformed frame") {
			warned = true
			assert.Equal(t, "rust", e.Data["language"])
		}
	}
	assert.True(t, warned, "no warning for the malformed frame")
}

func TestManager_TracesQueueBacklog(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	f := newManagerFixture(t, nil, WithLogger(logrus.NewEntry(log)))

	f.openRust(t, 1, "/src/main.rs")

	var seen bool
	for _, e := range hook.AllEntries() {
		if e.Message == "handling request" && e.Data["request"] == methodDidOpen {
			seen = true
			assert.Contains(t, e.Data, "queued")
		}
	}
	assert.True(t, seen)
}

func TestManager_Reconfigure(t *testing.T) {
	f := newManagerFixture(t, nil)

	require.NoError(t, f.m.DidOpen(1, "/src/stub.pyi", "", LanguagePython))
	noEvent(t, f.events())
	assert.Empty(t, f.l.Calls())

	spec, _ := DefaultLanguageTable().Lookup(LanguagePython)
	spec.Extensions = []string{".py", ".pyi"}
	spec.Command = Command{Name: "pylsp"}
	spec.Fallbacks = nil
	require.NoError(t, f.m.Reconfigure(DefaultLanguageTable().With(spec)))

	require.NoError(t, f.m.DidOpen(1, "/src/stub.pyi", "", LanguagePython))
	srv := f.l.server(t)
	assert.Equal(t, "pylsp", srv.cmd.Name)
	srv.nextMethod(t, methodDidOpen)
}

func TestManager_WaitHonoursContext(t *testing.T) {
	f := newManagerFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.m.Wait(ctx), context.Canceled)

	select {
	case <-f.m.Done():
		t.Fatal("manager done before shutdown")
	default:
	}
}
