package lsp

import (
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/dshills/scame/internal/lsp/protocol"
)

// clientCapabilities announces definition with link support and completion
// without snippets.
func clientCapabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		TextDocument: &protocol.TextDocumentClientCapabilities{
			Definition: &protocol.DefinitionClientCapabilities{
				DynamicRegistration: false,
				LinkSupport:         true,
			},
			Completion: &protocol.CompletionClientCapabilities{
				DynamicRegistration: false,
				CompletionItem: &protocol.CompletionItemCapabilities{
					SnippetSupport: false,
				},
			},
		},
	}
}

// initializeParams builds the initialize request for workDir. The root URI
// and workspace folder are left out if workDir cannot be resolved.
func initializeParams(workDir string) protocol.InitializeParams {
	params := protocol.InitializeParams{
		ProcessID:    os.Getpid(),
		Capabilities: clientCapabilities(),
	}

	root, ok := resolveRoot(workDir)
	if !ok {
		return params
	}

	uri := protocol.FilePathToURI(root)
	name := filepath.Base(root)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "workspace"
	}
	params.RootURI = &uri
	params.WorkspaceFolders = []protocol.WorkspaceFolder{{URI: uri, Name: name}}
	return params
}

func resolveRoot(workDir string) (string, bool) {
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", false
		}
		workDir = wd
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return "", false
	}
	return abs, true
}

// handshake sends initialize, reads exactly one reply, and sends initialized.
// It runs on the client's reader goroutine before the dispatcher starts.
func (c *Client) handshake() error {
	if _, err := c.request(methodInitialize, kindUnknown, initializeParams(c.workDir)); err != nil {
		return &HandshakeError{LanguageID: c.language, Err: err}
	}

	body, err := ReadMessage(c.reader)
	if err != nil {
		return &HandshakeError{LanguageID: c.language, Err: err}
	}
	c.metrics.frameRead(c.language)

	if !gjson.ValidBytes(body) {
		return &HandshakeError{LanguageID: c.language, Err: &FrameError{Reason: "initialize reply is not JSON"}}
	}
	reply := gjson.ParseBytes(body)
	if e := reply.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return &HandshakeError{LanguageID: c.language, Message: msg}
	}
	c.log.WithField("server", reply.Get("result.serverInfo.name").String()).Debug("initialize acknowledged")

	if err := c.notify(methodInitialized, protocol.InitializedParams{}); err != nil {
		return &HandshakeError{LanguageID: c.language, Err: err}
	}
	return nil
}
