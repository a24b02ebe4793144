package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hashing is a deterministic, dependency-free embedder that maps lowercase
// word tokens into a fixed number of buckets and normalises the result.
// Texts that share words get positive cosine similarity. It backs local
// development and tests when no embedding service is configured.
type Hashing struct {
	Dimension int
}

// NewHashing returns a Hashing embedder producing vectors of size dim.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 1536
	}
	return &Hashing{Dimension: dim}
}

// Embed implements Embedder.
func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dimension)
	for _, tok := range tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(tok))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.Dimension))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
