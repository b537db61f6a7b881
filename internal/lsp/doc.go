// Package lsp connects scame to Language Server Protocol servers.
//
// The editor talks to a Manager. Every Manager method enqueues a request and
// returns at once; results come back as events on Manager.Events. A single
// handler goroutine consumes the request queue and owns one Client per
// language. Each Client owns one server process and one reader goroutine.
//
// # Quick Start
//
//	m := lsp.NewManager(lsp.WithWorkDir(root), lsp.WithLogger(log))
//	defer m.Shutdown()
//
//	m.DidOpen(buf, "src/main.rs", text, lsp.LanguageRust)
//	m.Completion(buf, "src/main.rs", lsp.Position{Line: 3, Column: 7})
//
//	for ev := range m.Events() {
//	    switch ev := ev.(type) {
//	    case lsp.CompletionEvent:
//	    case lsp.GotoDefinitionEvent:
//	    case lsp.DiagnosticsEvent:
//	    case lsp.ErrorEvent:
//	    }
//	}
//
// # Servers
//
// A server is started the first time a file of its language is opened. The
// LanguageTable maps extensions to launch commands; when the primary command
// cannot be started the fallbacks are tried in order. Python servers get
// VIRTUAL_ENV set when a .venv, venv or env directory exists in the working
// directory.
//
// A server whose output ends is not restarted. Requests for its language are
// dropped until the Manager is recreated.
//
// # Wire format
//
// Messages are JSON-RPC 2.0 bodies framed with a Content-Length header, as
// implemented by ReadMessage and WriteMessage. Replies are matched to the
// request kind recorded for their id and, failing that, classified by shape.
//
// # Ordering
//
// Requests are handled strictly in the order they were enqueued, across all
// languages. A server that stops reading its input blocks the handler.
package lsp
