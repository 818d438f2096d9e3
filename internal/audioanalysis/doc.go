// Package audioanalysis implements the analyze_audio stage.
//
// The stage probes the narration file, rejects narration without an audio
// stream and transcribes it through the speech-to-text client. Transcription
// has its own bounded retry, separate from the workflow's stage retry, so a
// flaky service does not cost a whole stage attempt. The transcript and the
// narration duration are stored on the job for caption synchronization and
// assembly.
package audioanalysis
