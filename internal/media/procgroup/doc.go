// Package procgroup starts external media tools in their own process group
// and reaps the whole tree on timeout or cancellation, so a killed ffmpeg
// never leaves orphaned children behind.
package procgroup
