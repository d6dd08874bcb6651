// Package transcription defines the local speech recognition engine handle and
// its HTTP implementation. Audio is uploaded as a WAV file in a multipart form
// together with the decoding parameters; requests are bounded by a semaphore
// and transport failures are retried with exponential backoff.
package transcription
