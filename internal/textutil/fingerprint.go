package textutil

import (
	"math"
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// minTokenLen drops short function words such as "a", "of" and "to".
const minTokenLen = 3

// Fingerprint is a sparse term-weight vector.
type Fingerprint struct {
	weights map[string]float64
	norm    float64
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit, keeping tokens of at least three runes.
func Tokenize(text string) []string {
	parts := nonWord.Split(strings.ToLower(text), -1)
	out := parts[:0]
	for _, p := range parts {
		if len([]rune(p)) >= minTokenLen {
			out = append(out, p)
		}
	}
	return out
}

// NewFingerprint counts the tokens of text. It returns nil for text with no
// usable tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	weights := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		weights[tok]++
	}
	return newFingerprint(weights)
}

func newFingerprint(weights map[string]float64) *Fingerprint {
	var sum float64
	for _, w := range weights {
		sum += w * w
	}
	return &Fingerprint{weights: weights, norm: math.Sqrt(sum)}
}

// Weighted scales each term by idf. Terms missing from idf keep their
// weight; terms weighted to zero are dropped.
func (f *Fingerprint) Weighted(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	weights := make(map[string]float64, len(f.weights))
	for tok, w := range f.weights {
		if factor, ok := idf[tok]; ok {
			w *= factor
		}
		if w != 0 {
			weights[tok] = w
		}
	}
	if len(weights) == 0 {
		return nil
	}
	return newFingerprint(weights)
}

// Corpus accumulates document frequencies.
type Corpus struct {
	docs int
	df   map[string]int
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{df: make(map[string]int)}
}

// Add counts each distinct term of f once.
func (c *Corpus) Add(f *Fingerprint) {
	if f == nil {
		return
	}
	c.docs++
	for tok := range f.weights {
		c.df[tok]++
	}
}

// IDF returns smoothed inverse document frequencies, ln((N+1)/(df+1)).
func (c *Corpus) IDF() map[string]float64 {
	if c.docs == 0 {
		return nil
	}
	n := float64(c.docs)
	idf := make(map[string]float64, len(c.df))
	for tok, df := range c.df {
		idf[tok] = math.Log((n + 1) / (float64(df) + 1))
	}
	return idf
}
