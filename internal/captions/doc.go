// Package captions turns a narration transcript into burned-in caption cues.
//
// Transcript segments are split into evenly timed words, gated against the
// speech intervals found by voice activity detection, merged to avoid
// flicker and finally grouped into short display cues written as SRT. An
// empty result is an ErrContent failure, never an empty caption track.
package captions
