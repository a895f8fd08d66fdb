// Package vectorizer implements a TF-IDF vector space over character n-grams.
//
// N-grams are taken inside whitespace-delimited words padded with a single
// space on each side, so an n-gram can mark a word boundary but never spans
// two words or two chunks. This needs no tokenizer and works for scripts that
// do not separate words with spaces.
package vectorizer

import (
	"errors"
	"math"
	"sort"
	"strings"

	"copilot/internal/domain"
)

// ErrEmptyCorpus is returned when fitting on a corpus without any n-gram.
var ErrEmptyCorpus = errors.New("empty corpus for TF-IDF fit")

// Vectorizer is a character n-gram TF-IDF model. It is safe for concurrent
// Transform calls once fitted; Fit must not run concurrently with anything else.
type Vectorizer struct {
	low, high  int
	vocabulary map[string]int
	terms      []string
	idf        []float64
	fitted     bool
}

// New creates an unfitted vectorizer for n-grams of length low..high inclusive.
func New(low, high int) *Vectorizer {
	if low < 1 {
		low = 1
	}
	if high < low {
		high = low
	}
	return &Vectorizer{low: low, high: high}
}

// Fit builds the vocabulary and IDF values from the provided corpus.
func (v *Vectorizer) Fit(corpus []string) error {
	_, err := v.FitTransform(corpus)
	return err
}

// FitTransform fits the model on corpus and returns one L2-normalised vector per entry.
// Every call discards the previous vocabulary.
func (v *Vectorizer) FitTransform(corpus []string) ([]domain.Vector, error) {
	counts := make([]map[string]int, len(corpus))
	df := make(map[string]int)
	for i, text := range corpus {
		counts[i] = v.count(text)
		for term := range counts[i] {
			df[term]++
		}
	}
	if len(df) == 0 {
		return nil, ErrEmptyCorpus
	}

	// Create stable ordering for vocabulary
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		vocabulary[term] = i
		// Smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	v.vocabulary, v.terms, v.idf, v.fitted = vocabulary, terms, idf, true

	vectors := make([]domain.Vector, len(corpus))
	for i := range counts {
		vectors[i] = v.weigh(counts[i])
	}
	return vectors, nil
}

// Transform projects text into the fitted space. N-grams outside the
// vocabulary are ignored; an unfitted vectorizer yields the zero vector.
func (v *Vectorizer) Transform(text string) domain.Vector {
	if !v.fitted {
		return domain.Vector{}
	}
	return v.weigh(v.count(text))
}

// Dimension returns the vocabulary size.
func (v *Vectorizer) Dimension() int { return len(v.terms) }

// Fitted reports whether the vocabulary has been built.
func (v *Vectorizer) Fitted() bool { return v.fitted }

// Vocabulary returns the n-grams in dimension order.
func (v *Vectorizer) Vocabulary() []string {
	return append([]string(nil), v.terms...)
}

// NGrams returns the analyzed n-grams of text in emission order.
func (v *Vectorizer) NGrams(text string) []string {
	var out []string
	v.analyze(text, func(g string) { out = append(out, g) })
	return out
}

func (v *Vectorizer) count(text string) map[string]int {
	c := make(map[string]int)
	v.analyze(text, func(g string) { c[g]++ })
	return c
}

// weigh turns raw n-gram counts into a sorted sparse TF-IDF vector of unit length.
func (v *Vectorizer) weigh(counts map[string]int) domain.Vector {
	type entry struct {
		idx int
		val float64
	}
	entries := make([]entry, 0, len(counts))
	for term, tf := range counts {
		idx, ok := v.vocabulary[term]
		if !ok {
			continue
		}
		entries = append(entries, entry{idx, float64(tf) * v.idf[idx]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	vec := domain.Vector{
		Indices: make([]int, len(entries)),
		Values:  make([]float64, len(entries)),
	}
	norm := 0.0
	for i, e := range entries {
		vec.Indices[i] = e.idx
		vec.Values[i] = e.val
		norm += e.val * e.val
	}
	// L2 normalize
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec.Values {
			vec.Values[i] /= norm
		}
	}
	return vec
}

// analyze lower-cases text, splits it on whitespace and emits the n-grams of
// every word padded as " word ". A padded word no longer than n is emitted
// once whole, and longer n-gram sizes are skipped for it.
func (v *Vectorizer) analyze(text string, emit func(string)) {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		w := []rune(" " + word + " ")
		for n := v.low; n <= v.high; n++ {
			if len(w) <= n {
				emit(string(w))
				break
			}
			for off := 0; off+n <= len(w); off++ {
				emit(string(w[off : off+n]))
			}
		}
	}
}
