// Package cmd implements the command-line interface for the cedar storage
// engine. It provides a hierarchical command structure for inspecting and
// exercising an embedded engine.
//
// The package is organized into several subpackages:
//
//   - bench: Benchmarks against an embedded engine instance
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See cedar -help for a list of all commands.
package cmd
