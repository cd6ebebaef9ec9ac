// Package config provides configuration loading and validation for the
// audio instruction extraction service. It handles YAML-based configuration
// with per-section validation and environment overrides for secrets.
package config
