// Package config provides the configuration of a scan run: defaults, the
// YAML configuration file and validation.
package config
