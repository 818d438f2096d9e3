// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size)
//
// Primary entry points:
//   - Inspect: executes ffprobe in its own process group and returns the Result
//   - Parse: decodes captured ffprobe JSON
//
// Result.Spec reduces a probe to the media.Spec the reconciler compares
// against the composition target.
package ffprobe
