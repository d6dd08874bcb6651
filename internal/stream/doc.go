// Package stream runs real-time websocket sessions. Each session reads JSON
// audio messages, processes them strictly in arrival order through the
// real-time transcription path, and writes transcription, alert and error
// events back on the same connection. The Manager tracks live sessions for
// monitoring and reaps idle ones.
package stream
