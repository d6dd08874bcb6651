// Package summary produces structured meeting reports from a final
// transcript through one remote backend call, degrading to text
// extraction and then to a deterministic report when the backend
// misbehaves.
package summary
