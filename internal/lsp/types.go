package lsp

import "fmt"

// BufferID identifies an open editor buffer for the lifetime of a session.
type BufferID int

// Position is a zero-based line and column.
type Position struct {
	Line   int
	Column int
}

// String returns the position as 1-based line:col.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Column+1)
}

// Severity is the importance of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// Diagnostic is a message a server published about a range of a document.
type Diagnostic struct {
	Start    Position
	End      Position
	Severity Severity
	Message  string
}

// Location is an absolute file path plus a position in it.
type Location struct {
	Path     string
	Position Position
}

// String formats the location as path:line:col with 1-based numbers.
func (l Location) String() string {
	return l.Path + ":" + l.Position.String()
}

// CompletionItem is one completion suggestion.
type CompletionItem struct {
	Label string
	// Kind is nil when the server did not send one.
	Kind   *CompletionKind
	Detail *string
	// InsertText is the label unless the server sent something else.
	InsertText string
}

// Request is a message from the editor to the task handler.
type Request interface {
	requestMethod() string
}

// DidOpenRequest announces a newly opened document.
type DidOpenRequest struct {
	Buffer     BufferID
	Path       string
	Content    string
	LanguageID string
}

// DidChangeRequest carries the full new text of a document.
type DidChangeRequest struct {
	Buffer  BufferID
	Path    string
	Content string
	Version int
}

// DidSaveRequest announces that a document was written to disk.
type DidSaveRequest struct {
	Buffer BufferID
	Path   string
}

// GotoDefinitionRequest asks for the definition of the symbol at Position.
type GotoDefinitionRequest struct {
	Buffer   BufferID
	Path     string
	Position Position
}

// CompletionRequest asks for completions at Position.
type CompletionRequest struct {
	Buffer   BufferID
	Path     string
	Position Position
}

// ShutdownRequest stops the task handler.
type ShutdownRequest struct{}

// reconfigureRequest swaps the language table inside the handler.
type reconfigureRequest struct {
	table *LanguageTable
}

func (DidOpenRequest) requestMethod() string        { return methodDidOpen }
func (DidChangeRequest) requestMethod() string      { return methodDidChange }
func (DidSaveRequest) requestMethod() string        { return methodDidSave }
func (GotoDefinitionRequest) requestMethod() string { return methodDefinition }
func (CompletionRequest) requestMethod() string     { return methodCompletion }
func (ShutdownRequest) requestMethod() string       { return methodShutdown }
func (reconfigureRequest) requestMethod() string    { return "scame/reconfigure" }

// Event is a message from the LSP subsystem to the editor.
type Event interface {
	// Kind names the event for logging and metrics.
	Kind() string
}

// DiagnosticsEvent replaces the diagnostics of a buffer.
type DiagnosticsEvent struct {
	// Buffer is the buffer that caused the client to start. Servers may
	// publish for other documents too; Path says which one.
	Buffer      BufferID
	Path        string
	Diagnostics []Diagnostic
}

// GotoDefinitionEvent carries the target of a definition lookup.
type GotoDefinitionEvent struct {
	Location Location
}

// CompletionEvent carries completion results.
type CompletionEvent struct {
	Items []CompletionItem
}

// ErrorEvent reports a failure the editor should show to the user.
type ErrorEvent struct {
	Message string
	Err     error
}

func (DiagnosticsEvent) Kind() string    { return "diagnostics" }
func (GotoDefinitionEvent) Kind() string { return "definition" }
func (CompletionEvent) Kind() string     { return "completion" }
func (ErrorEvent) Kind() string          { return "error" }
