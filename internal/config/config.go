package config

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/dshills/scame/internal/config/loader"
	"github.com/dshills/scame/internal/logging"
	"github.com/dshills/scame/internal/lsp"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "SCAME_"

// Config holds the merged configuration: built-in defaults, then the
// config file, then the environment.
type Config struct {
	mu sync.RWMutex

	path string
	fs   loader.FileSystem
	env  loader.Loader

	data map[string]any
}

// Option configures a Config instance.
type Option func(*Config)

// WithFileSystem sets the file system the config file is read from.
func WithFileSystem(fs loader.FileSystem) Option {
	return func(c *Config) {
		c.fs = fs
	}
}

// WithEnv replaces the environment source. Pass nil to ignore the
// environment.
func WithEnv(l loader.Loader) Option {
	return func(c *Config) {
		c.env = l
	}
}

// New creates a Config for the file at path without reading anything.
// An empty path means defaults and environment only.
func New(path string, opts ...Option) *Config {
	c := &Config{
		path: path,
		fs:   loader.DefaultFS(),
		env:  loader.NewEnvLoader(EnvPrefix),
		data: defaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load creates a Config and reads every source.
func Load(path string, opts ...Option) (*Config, error) {
	c := New(path, opts...)
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Reload reads every source again. On error the previous values are kept.
func (c *Config) Reload() error {
	data := defaultConfig()

	if c.path != "" {
		l, err := loader.ForPath(c.fs, c.path)
		if err != nil {
			return err
		}
		file, err := l.Load()
		if err != nil {
			return err
		}
		data = loader.DeepMerge(data, file)
	}

	if c.env != nil {
		env, err := c.env.Load()
		if err != nil {
			return errors.Wrap(err, "loading environment")
		}
		data = loader.DeepMerge(data, env)
	}

	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	return nil
}

// Get returns the value at the given dotted path.
func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return getPath(c.data, path)
}

// GetString returns a string value at the given path.
func (c *Config) GetString(path string) (string, error) {
	v, ok := c.Get(path)
	if !ok {
		return "", ErrSettingNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Expected: "string", Actual: typeName(v)}
	}
	return s, nil
}

// GetBool returns a boolean value at the given path.
func (c *Config) GetBool(path string) (bool, error) {
	v, ok := c.Get(path)
	if !ok {
		return false, ErrSettingNotFound
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeError{Path: path, Expected: "bool", Actual: typeName(v)}
	}
	return b, nil
}

// GetStringSlice returns a string slice at the given path.
func (c *Config) GetStringSlice(path string) ([]string, error) {
	v, ok := c.Get(path)
	if !ok {
		return nil, ErrSettingNotFound
	}
	return stringSlice(path, v)
}

// Logging returns the logger configuration. Output is os.Stderr.
func (c *Config) Logging() (logging.Config, error) {
	cfg := logging.DefaultConfig()

	level, err := c.GetString("logging.level")
	if err != nil {
		return cfg, err
	}
	cfg.Level = logging.ParseLevel(level)

	format, err := c.GetString("logging.format")
	if err != nil {
		return cfg, err
	}
	switch logging.Format(strings.ToLower(format)) {
	case logging.FormatJSON:
		cfg.Format = logging.FormatJSON
	case logging.FormatText:
		cfg.Format = logging.FormatText
	default:
		return cfg, &TypeError{Path: "logging.format", Expected: `"text" or "json"`, Actual: format}
	}

	cfg.Output = os.Stderr
	return cfg, nil
}

// WorkDir returns lsp.workdir, or "" for the process working directory.
func (c *Config) WorkDir() string {
	dir, err := c.GetString("lsp.workdir")
	if err != nil {
		return ""
	}
	return dir
}

// LanguageTable overlays the lsp.servers entries on the built-in table.
// Fields that an entry leaves out keep their built-in values.
func (c *Config) LanguageTable() (*lsp.LanguageTable, error) {
	table := lsp.DefaultLanguageTable()

	v, ok := c.Get("lsp.servers")
	if !ok {
		return table, nil
	}
	servers, ok := v.(map[string]any)
	if !ok {
		return nil, &TypeError{Path: "lsp.servers", Expected: "table", Actual: typeName(v)}
	}

	keys := make([]string, 0, len(servers))
	for k := range servers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		spec, err := serverSpec(table, key, servers[key])
		if err != nil {
			return nil, err
		}
		table = table.With(spec)
	}
	if err := checkExtensions(table); err != nil {
		return nil, err
	}
	return table, nil
}

// checkExtensions rejects an extension listed by more than one language.
func checkExtensions(table *lsp.LanguageTable) error {
	owner := make(map[string]lsp.Language)
	for _, spec := range table.Specs() {
		for _, ext := range spec.Extensions {
			ext = strings.ToLower(ext)
			if prev, ok := owner[ext]; ok && prev != spec.Language {
				return errors.Wrapf(ErrDuplicateExtension, "config lsp.servers: %s is listed by %s and %s",
					ext, prev.ID(), spec.Language.ID())
			}
			owner[ext] = spec.Language
		}
	}
	return nil
}

// serverSpec applies one lsp.servers entry to the built-in spec.
func serverSpec(table *lsp.LanguageTable, key string, v any) (lsp.ServerSpec, error) {
	base := "lsp.servers." + key

	lang, ok := lsp.ParseLanguage(strings.ToLower(key))
	if !ok {
		return lsp.ServerSpec{}, errors.Wrapf(ErrUnknownServer, "%s", base)
	}
	entry, ok := v.(map[string]any)
	if !ok {
		return lsp.ServerSpec{}, &TypeError{Path: base, Expected: "table", Actual: typeName(v)}
	}

	spec, ok := table.Lookup(lang)
	if !ok {
		spec = lsp.ServerSpec{Language: lang}
	}

	for field, value := range entry {
		path := base + "." + field
		switch field {
		case "command":
			line, ok := value.(string)
			if !ok {
				return spec, &TypeError{Path: path, Expected: "string", Actual: typeName(value)}
			}
			cmd, err := parseCommand(path, line)
			if err != nil {
				return spec, err
			}
			spec.Command = cmd

		case "fallbacks":
			lines, err := stringSlice(path, value)
			if err != nil {
				return spec, err
			}
			spec.Fallbacks = make([]lsp.Command, 0, len(lines))
			for _, line := range lines {
				cmd, err := parseCommand(path, line)
				if err != nil {
					return spec, err
				}
				spec.Fallbacks = append(spec.Fallbacks, cmd)
			}

		case "extensions":
			exts, err := stringSlice(path, value)
			if err != nil {
				return spec, err
			}
			spec.Extensions = make([]string, 0, len(exts))
			for _, ext := range exts {
				if ext == "" {
					continue
				}
				if !strings.HasPrefix(ext, ".") {
					ext = "." + ext
				}
				spec.Extensions = append(spec.Extensions, ext)
			}

		case "install_hint":
			hint, ok := value.(string)
			if !ok {
				return spec, &TypeError{Path: path, Expected: "string", Actual: typeName(value)}
			}
			spec.InstallHint = hint

		case "virtual_env":
			b, ok := value.(bool)
			if !ok {
				return spec, &TypeError{Path: path, Expected: "bool", Actual: typeName(value)}
			}
			spec.DetectVirtualEnv = b

		default:
			return spec, errors.Newf("config %s: unknown field", path)
		}
	}

	return spec, nil
}

func parseCommand(path, line string) (lsp.Command, error) {
	cmd, err := lsp.ParseCommand(line)
	if err != nil {
		return lsp.Command{}, errors.Wrapf(errors.Mark(err, ErrInvalidCommand), "config %s", path)
	}
	if cmd.Name == "" {
		return lsp.Command{}, errors.Wrapf(ErrInvalidCommand, "config %s: empty command", path)
	}
	return cmd, nil
}

// Fields returns the logrus fields describing where the config came from.
func (c *Config) Fields() logrus.Fields {
	return logrus.Fields{"config": c.path, "workdir": c.WorkDir()}
}

// defaultConfig returns the built-in defaults.
func defaultConfig() map[string]any {
	return map[string]any{
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"lsp": map[string]any{
			"workdir": "",
		},
	}
}

// getPath retrieves a value from a nested map using a dot-separated path.
func getPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := any(m)
	for _, part := range parts {
		cm, ok := current.(map[string]any)
		if !ok || part == "" {
			return nil, false
		}
		current, ok = cm[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringSlice(path string, v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		result := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, &TypeError{Path: path, Expected: "[]string", Actual: "[]" + typeName(item)}
			}
			result[i] = s
		}
		return result, nil
	default:
		return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
	}
}

// typeName returns the type name for error messages.
func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	switch v.(type) {
	case string:
		return "string"
	case int, int64:
		return "int"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case []string:
		return "[]string"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	default:
		return "unknown"
	}
}
