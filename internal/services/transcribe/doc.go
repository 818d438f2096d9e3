// Package transcribe is the speech-to-text client. It uploads the narration
// and returns timed transcript segments.
package transcribe
