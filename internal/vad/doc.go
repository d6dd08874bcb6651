// Package vad provides energy-based voice activity detection with an adaptive
// per-call threshold, and a fast voiced-ratio speaker count estimate.
// The estimate is deliberately crude and is not a diarization algorithm.
package vad
