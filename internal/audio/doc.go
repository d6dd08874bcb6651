// Package audio handles audio decoding, normalization, and chunking.
// Every buffer leaving this package is mono, 16 kHz, float-normalized PCM; conversion
// happens once at ingress and downstream components never resample again.
package audio
