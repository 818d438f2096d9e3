// Package ffmpeg is the media tool adapter: the only place the pipeline
// spawns ffmpeg or ffprobe.
//
// Command lines are assembled with github.com/u2takey/ffmpeg-go and executed
// by the Adapter, which runs each invocation in its own process group under
// a per-call timeout. A failed call removes its partial output, and an empty
// output file counts as a failure. Errors are classified into the
// services error taxonomy: timeouts as ErrTimeout, tool failures as
// ErrExternalTool and undecodable inputs as ErrCorrupted.
//
// DecodeFrames streams every frame of a rendering as RGB24 for the content
// validator; ExtractPCM produces mono samples for voice activity detection.
package ffmpeg
