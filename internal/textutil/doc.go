// Package textutil holds small text helpers: term-frequency fingerprints
// with optional IDF weighting for ranking clip titles against a query, and
// token sanitizing for file names derived from external identifiers.
package textutil
