// Package server exposes the HTTP API: batch file processing, single
// real-time chunks, the user profile, diagnostics, Prometheus metrics and
// the websocket upgrade for live sessions.
package server
