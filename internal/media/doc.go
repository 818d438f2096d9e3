// Package media holds the format types shared by the ffmpeg adapter, the
// compatibility reconciler, the validator and the caption engine: measured
// specs, the composition target, speech segments, decoded frames and PCM.
package media
