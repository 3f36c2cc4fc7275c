package embeddings

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultLocalDimensions is the vector width of the local encoder.
const DefaultLocalDimensions = 384

// Local is a deterministic feature-hashing text encoder. Unigrams and
// word bigrams are hashed into a fixed number of buckets with a signed
// contribution, then the vector is L2-normalized. It needs no model files
// or network, which makes it the default backend for development and tests.
type Local struct {
	dims int
}

// NewLocal creates a local encoder with the given dimension count; values
// below 8 fall back to DefaultLocalDimensions.
func NewLocal(dims int) *Local {
	if dims < 8 {
		dims = DefaultLocalDimensions
	}
	return &Local{dims: dims}
}

// Dimensions returns the fixed output width.
func (l *Local) Dimensions() int { return l.dims }

// Embed encodes each text independently. Never fails.
func (l *Local) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = l.encode(t)
	}
	return out, nil
}

func (l *Local) encode(text string) []float64 {
	vec := make([]float64, l.dims)
	words := splitWords(text)
	for i, w := range words {
		addFeature(vec, w)
		if i+1 < len(words) {
			addFeature(vec, w+" "+words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// addFeature hashes the feature into a bucket, using one hash bit as the
// contribution sign so collisions tend to cancel rather than pile up.
func addFeature(vec []float64, feature string) {
	h := xxhash.Sum64String(feature)
	bucket := int(h % uint64(len(vec)))
	if h&(1<<63) != 0 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
