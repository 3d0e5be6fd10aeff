// Package cmd implements the command-line interface for the skv client.
// It provides a hierarchical command structure for interacting with a
// distributed key-value cluster.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for record operations (get, put, delete, scan, etc.)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See skv -help for a list of all commands.
package cmd
