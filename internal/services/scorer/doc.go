// Package scorer talks to the two model endpoints the pipeline depends on:
// the on-screen text detector that scores every decoded frame, and the
// neural voice activity detector used for caption gating.
package scorer
