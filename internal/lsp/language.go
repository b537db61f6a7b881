package lsp

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Language identifies a language that has a server in the launch table.
type Language int

const (
	// LanguageUnknown is the zero value and has no server.
	LanguageUnknown Language = iota
	// LanguageRust is served by rust-analyzer.
	LanguageRust
	// LanguagePython is served by pyright or pylsp.
	LanguagePython
)

// ID returns the LSP language identifier, which also keys the client registry.
func (l Language) ID() string {
	switch l {
	case LanguageRust:
		return "rust"
	case LanguagePython:
		return "python"
	default:
		return ""
	}
}

// String returns the language identifier.
func (l Language) String() string {
	if id := l.ID(); id != "" {
		return id
	}
	return "unknown"
}

// ParseLanguage maps a language identifier back to a Language.
func ParseLanguage(id string) (Language, bool) {
	switch strings.ToLower(id) {
	case "rust":
		return LanguageRust, true
	case "python":
		return LanguagePython, true
	default:
		return LanguageUnknown, false
	}
}

// Command is an executable plus its arguments.
type Command struct {
	Name string
	Args []string
}

// String renders the command as a shell-quoted line.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// ParseCommand splits a shell-quoted command line.
func ParseCommand(line string) (Command, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return Command{}, err
	}
	if len(words) == 0 {
		return Command{}, nil
	}
	return Command{Name: words[0], Args: words[1:]}, nil
}

// ServerSpec describes how to launch the server for one language.
type ServerSpec struct {
	Language Language

	// Command is tried first. Fallbacks are tried in order if it fails.
	Command   Command
	Fallbacks []Command

	// Extensions are matched case-insensitively, including the leading dot.
	Extensions []string

	// InstallHint is shown when no candidate could be started.
	InstallHint string

	// DetectVirtualEnv sets VIRTUAL_ENV from the working directory before spawning.
	DetectVirtualEnv bool
}

// Candidates returns the primary command followed by the fallbacks.
func (s ServerSpec) Candidates() []Command {
	out := make([]Command, 0, 1+len(s.Fallbacks))
	out = append(out, s.Command)
	return append(out, s.Fallbacks...)
}

// LanguageTable resolves file paths to server specs.
// A table is immutable once built; With returns a modified copy.
type LanguageTable struct {
	specs map[Language]ServerSpec
}

// NewLanguageTable builds a table from specs. Later specs replace earlier
// ones for the same language.
func NewLanguageTable(specs ...ServerSpec) *LanguageTable {
	t := &LanguageTable{specs: make(map[Language]ServerSpec, len(specs))}
	for _, s := range specs {
		t.specs[s.Language] = s
	}
	return t
}

// DefaultLanguageTable returns the built-in launch table.
func DefaultLanguageTable() *LanguageTable {
	return NewLanguageTable(
		ServerSpec{
			Language:    LanguageRust,
			Command:     Command{Name: "rust-analyzer"},
			Extensions:  []string{".rs"},
			InstallHint: "rustup component add rust-analyzer",
		},
		ServerSpec{
			Language: LanguagePython,
			Command:  Command{Name: "pyright-langserver", Args: []string{"--stdio"}},
			Fallbacks: []Command{
				{Name: "pyright", Args: []string{"--stdio"}},
				{Name: "pylsp"},
			},
			Extensions:       []string{".py"},
			InstallHint:      "pip install pyright",
			DetectVirtualEnv: true,
		},
	)
}

// With returns a copy of the table with spec added or replaced.
func (t *LanguageTable) With(spec ServerSpec) *LanguageTable {
	specs := make([]ServerSpec, 0, len(t.specs)+1)
	for _, s := range t.specs {
		specs = append(specs, s)
	}
	return NewLanguageTable(append(specs, spec)...)
}

// Lookup returns the spec for a language.
func (t *LanguageTable) Lookup(lang Language) (ServerSpec, bool) {
	s, ok := t.specs[lang]
	return s, ok
}

// Detect resolves path to a server spec by its extension. If two specs
// claim the extension, the one whose language id sorts first wins.
func (t *LanguageTable) Detect(path string) (ServerSpec, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ServerSpec{}, false
	}
	for _, s := range t.Specs() {
		for _, e := range s.Extensions {
			if strings.ToLower(e) == ext {
				return s, true
			}
		}
	}
	return ServerSpec{}, false
}

// Specs returns all specs ordered by language identifier.
func (t *LanguageTable) Specs() []ServerSpec {
	out := make([]ServerSpec, 0, len(t.specs))
	for _, s := range t.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Language.ID() < out[j].Language.ID()
	})
	return out
}
