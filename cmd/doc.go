// Package cmd implements the command-line interface of syslink. It provides a
// hierarchical command structure to inspect shared region tables and to run
// remote commands against an in-process function server.
//
// The package is organized into several subpackages:
//
//   - region: Commands for the region table (show, translate, reserve)
//   - rcm: Commands for the remote command client (exec, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See syslink -help for a list of all commands.
package cmd
