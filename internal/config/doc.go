// Package config loads the tool's own runtime settings (configuration root,
// output directory, log level, HTTP server knobs) from multiple sources with
// precedence: CLI flags > YAML config > Environment variables > Defaults.
// Experiment configurations themselves are handled by the catalog and compose
// packages.
package config
