// Package orchestrator turns a normalized audio buffer into a final transcript.
//
// Each strategy runs the local engine first, then optionally fans out to the
// remote backends. Fan-out results are reduced in a fixed logical order
// (submission order for backends, ascending index for chunks), so identical
// backend outputs always give identical text. The text returned is chosen by
// walking a ranked list of fallback producers; the tier of the producer that
// fired is reported in the Outcome.
package orchestrator
