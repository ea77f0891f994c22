// Package config loads, validates, and normalizes Parley configuration from
// TOML files. Defaults live in defaults.go; the embedded sample_config.toml is
// written by `parley config init`.
package config
