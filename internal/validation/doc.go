// Package validation decides whether a clip may appear in a composition.
//
// The engine renders the clip exactly as the composition will crop it,
// decodes every frame of that rendering and asks the text scorer about each
// full frame. One detection at or above the confidence floor rejects the
// clip. A rendering that yields no frames, or breaks off part way, is
// reported as corrupted rather than approved. Every rejection is written to
// the rejection ledger and the local copies of the clip are deleted.
package validation
