// Package main hosts the markergate CLI entrypoint and command graph.
//
// The Cobra command tree covers the HTTP server (serve), one-shot local
// conversions, GPU and dependency diagnostics, table export, upload
// retention, and configuration scaffolding. Configuration is resolved once
// per invocation by commandContext; the heavy lifting lives in the internal
// packages.
package main
