// Package vad finds speech intervals in narration audio.
//
// Detectors are tried in order of preference by a Chain: the neural scorer
// first, then the WebRTC detector (cgo builds only), then the frame-energy
// detector with an adaptive noise floor, then a plain signal-level threshold. A detector that cannot run is
// skipped; a detector that runs and finds no speech is an answer.
package vad
