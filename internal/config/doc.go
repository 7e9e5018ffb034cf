// Package config loads, normalizes, and validates markergate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, overlays an optional dotenv file, and honours
// environment fallbacks such as MARKER_CLI and MARKER_OUTPUT_DIR. The Config
// type centralizes every knob the API server and CLI need.
//
// A Config is built once at startup and passed explicitly to each component;
// nothing in this package keeps process-wide mutable state.
package config
