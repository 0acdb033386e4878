// Package control is the rawprox control plane: a Model Context Protocol
// style JSON-RPC 2.0 endpoint served over HTTP POST at /mcp on loopback.
//
// It exposes five tools (start-logging, stop-logging, add-port-rule,
// remove-port-rule and shutdown) through tools/list and tools/call. The same
// tool names are also accepted directly as JSON-RPC methods.
package control
