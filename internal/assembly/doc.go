// Package assembly implements the last three workflow stages.
//
// trim cuts each approved clip to its share of the narration, assemble
// reconciles the cuts to the composition target and concatenates them, and
// compose re-validates the source clips, checks the caption track is not
// empty, burns the captions in over the narration and publishes the result.
package assembly
