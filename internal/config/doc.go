// Package config assembles rawprox's startup configuration from an optional
// YAML file, command-line flags and positional arguments.
package config
