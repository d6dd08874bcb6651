// Package protocol defines the JSON messages exchanged over the real-time
// audio channel. Inbound messages carry audio in one of three encodings
// (int16 sample arrays, raw container bytes, base64) plus keep-alive pings.
// Outbound messages carry transcription results, speaker alerts and errors.
package protocol
