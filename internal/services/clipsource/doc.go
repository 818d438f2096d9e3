// Package clipsource searches the third-party stock clip catalogue and
// downloads clip bytes.
package clipsource
