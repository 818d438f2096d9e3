package textutil

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(b.weights) < len(a.weights) {
		a, b = b, a
	}
	var dot float64
	for tok, w := range a.weights {
		dot += w * b.weights[tok]
	}
	return dot / (a.norm * b.norm)
}

// Relevance scores every doc against query. Query terms are weighted by how
// rare they are among docs, so a word every title shares counts for little.
// A query with no usable tokens scores every doc 0.
func Relevance(query string, docs []string) []float64 {
	scores := make([]float64, len(docs))
	q := NewFingerprint(query)
	if q == nil {
		return scores
	}
	corpus := NewCorpus()
	prints := make([]*Fingerprint, len(docs))
	for i, doc := range docs {
		prints[i] = NewFingerprint(doc)
		corpus.Add(prints[i])
	}
	// Add the query too so a term found only in the query keeps a positive
	// weight.
	corpus.Add(q)
	idf := corpus.IDF()
	qw := q.Weighted(idf)
	for i, p := range prints {
		scores[i] = CosineSimilarity(qw, p.Weighted(idf))
	}
	return scores
}
