package lsp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DiagnosticsStore holds the latest diagnostics per buffer.
// It is safe for concurrent use.
type DiagnosticsStore struct {
	mu          sync.RWMutex
	diagnostics map[BufferID][]Diagnostic
}

// NewDiagnosticsStore creates an empty store.
func NewDiagnosticsStore() *DiagnosticsStore {
	return &DiagnosticsStore{diagnostics: make(map[BufferID][]Diagnostic)}
}

// Apply stores the diagnostics carried by ev under ev.Buffer. A client
// tags every event with the buffer it was started for, so callers with
// several files of one language should resolve ev.Path and call Update.
func (s *DiagnosticsStore) Apply(ev DiagnosticsEvent) {
	s.Update(ev.Buffer, ev.Diagnostics)
}

// Update replaces the diagnostics for buffer. An empty list removes them.
func (s *DiagnosticsStore) Update(buffer BufferID, diagnostics []Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(diagnostics) == 0 {
		delete(s.diagnostics, buffer)
		return
	}
	cp := make([]Diagnostic, len(diagnostics))
	copy(cp, diagnostics)
	s.diagnostics[buffer] = cp
}

// Get returns the diagnostics for buffer, or nil.
func (s *DiagnosticsStore) Get(buffer BufferID) []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := s.diagnostics[buffer]
	if d == nil {
		return nil
	}
	cp := make([]Diagnostic, len(d))
	copy(cp, d)
	return cp
}

// ForLine returns diagnostics whose range spans line.
func (s *DiagnosticsStore) ForLine(buffer BufferID, line int) []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Diagnostic
	for _, d := range s.diagnostics[buffer] {
		if line >= d.Start.Line && line <= d.End.Line {
			out = append(out, d)
		}
	}
	return out
}

// Counts returns the number of errors and warnings for buffer.
func (s *DiagnosticsStore) Counts(buffer BufferID) (errors, warnings int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.diagnostics[buffer] {
		switch d.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}
	return errors, warnings
}

// Buffers returns the buffers that have diagnostics, in ascending order.
func (s *DiagnosticsStore) Buffers() []BufferID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BufferID, 0, len(s.diagnostics))
	for b := range s.diagnostics {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear removes all diagnostics.
func (s *DiagnosticsStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = make(map[BufferID][]Diagnostic)
}

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInformation:
		return "Information"
	case SeverityHint:
		return "Hint"
	default:
		return "Unknown"
	}
}

// Icon returns a single character icon for the severity.
func (s Severity) Icon() string {
	switch s {
	case SeverityError:
		return "E"
	case SeverityWarning:
		return "W"
	case SeverityInformation:
		return "I"
	case SeverityHint:
		return "H"
	default:
		return "?"
	}
}

// FormatDiagnostic formats a diagnostic for display.
func FormatDiagnostic(d Diagnostic) string {
	var sb strings.Builder
	sb.WriteString(d.Severity.Icon())
	sb.WriteString(" ")
	sb.WriteString(d.Message)
	return sb.String()
}

// FormatDiagnosticWithLocation formats a diagnostic with file location.
func FormatDiagnosticWithLocation(path string, d Diagnostic) string {
	return fmt.Sprintf("%s:%d:%d: %s",
		path,
		d.Start.Line+1,   // Convert to 1-based
		d.Start.Column+1, // Convert to 1-based
		FormatDiagnostic(d),
	)
}
