package lsp

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Standard errors returned by the LSP client.
var (
	// ErrShutdown indicates the manager has been shut down.
	ErrShutdown = errors.New("lsp manager shut down")

	// ErrUnknownLanguage indicates no server is configured for a path.
	ErrUnknownLanguage = errors.New("no language server for file type")

	// ErrMissingContentLength indicates a frame header block without a length.
	ErrMissingContentLength = errors.New("missing Content-Length header")
)

// ProcessSpawnError reports that no launch candidate for a language started.
type ProcessSpawnError struct {
	LanguageID string
	// Attempts lists every command line that was tried, in order.
	Attempts []string
	// Hint tells the user how to install the server.
	Hint string
	Err  error
}

// Error implements the error interface.
func (e *ProcessSpawnError) Error() string {
	msg := fmt.Sprintf("failed to start %s language server (tried: %s)",
		e.LanguageID, strings.Join(e.Attempts, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += "; install with: " + e.Hint
	}
	return msg
}

// Unwrap returns the error from the last attempt.
func (e *ProcessSpawnError) Unwrap() error {
	return e.Err
}

// HandshakeError reports a failed initialize exchange.
type HandshakeError struct {
	LanguageID string
	// Message is the server's error message when the reply carried one.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s initialize rejected: %s", e.LanguageID, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s initialize failed: %v", e.LanguageID, e.Err)
	default:
		return fmt.Sprintf("%s initialize failed", e.LanguageID)
	}
}

// Unwrap returns the underlying error.
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed write or flush to a server's stdin.
type WriteError struct {
	LanguageID string
	Method     string
	Err        error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s to %s server: %v", e.Method, e.LanguageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// FrameError reports a malformed Content-Length frame.
type FrameError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lsp frame: %s: %v", e.Reason, e.Err)
	}
	return "lsp frame: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// ProtocolError is a JSON-RPC error object sent by a server.
type ProtocolError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return "rpc error: " + e.Message
}

// Unwrap returns nil. ProtocolError is always a leaf.
func (e *ProtocolError) Unwrap() error {
	return nil
}

// IsFrameError reports whether err is, or wraps, a FrameError.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
