// Package config loads scame's settings.
//
// Values come from three layers, each overriding the one before:
//
//  1. built-in defaults
//  2. the config file (TOML or YAML, chosen by extension)
//  3. SCAME_ environment variables
//
// A config file looks like:
//
//	[logging]
//	level = "debug"
//	format = "json"
//
//	[lsp]
//	workdir = "/src/project"
//
//	[lsp.servers.python]
//	command = "pyright-langserver --stdio"
//	fallbacks = ["pyright --stdio", "pylsp"]
//	extensions = [".py", ".pyi"]
//
// Server entries are keyed by language identifier and overlay the built-in
// launch table field by field. Commands are split with shell quoting rules.
//
// The watcher subpackage reports changes to the file so that callers can
// Reload and pass the new LanguageTable to the language server manager.
package config
