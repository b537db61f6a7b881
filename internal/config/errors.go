package config

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errors returned by configuration operations.
var (
	// ErrSettingNotFound indicates the setting path doesn't exist.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrUnknownServer indicates a server table entry for a language
	// scame has no client for.
	ErrUnknownServer = errors.New("unknown language server")

	// ErrInvalidCommand indicates a server command line that cannot be split.
	ErrInvalidCommand = errors.New("invalid server command")

	// ErrDuplicateExtension indicates a file extension claimed by two
	// languages.
	ErrDuplicateExtension = errors.New("file extension claimed by two languages")
)

// TypeError is returned when a setting has the wrong type.
type TypeError struct {
	Path     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("config %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}
