package embedding

import (
	"hash/fnv"
	"math"
	"strings"
)

// knownDimensions maps model names to their native output widths.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"intfloat/multilingual-e5-small":         384,
}

const fallbackDimension = 384

// DefaultLoader returns the built-in local model: a deterministic feature-
// hashing embedder. It needs no model files, so the cache directory is only
// relevant to heavier loaders plugged in through the Loader type.
func DefaultLoader() Loader {
	return func(modelName, cacheDir string) (Model, error) {
		dim, ok := knownDimensions[modelName]
		if !ok {
			dim = fallbackDimension
		}
		return &hashingModel{dim: dim}, nil
	}
}

// hashingModel embeds text with the hashing trick: unigrams and bigrams are
// hashed into a fixed number of signed buckets and the result is
// L2-normalized. Deterministic, dependency-free, and good enough for
// similarity over short texts.
type hashingModel struct {
	dim int
}

func (m *hashingModel) Dimension() int {
	return m.dim
}

func (m *hashingModel) Embed(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embedOne(t)
	}
	return out
}

func (m *hashingModel) embedOne(text string) []float32 {
	vec := make([]float32, m.dim)

	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		m.accumulate(vec, tok)
		if i+1 < len(tokens) {
			m.accumulate(vec, tok+" "+tokens[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (m *hashingModel) accumulate(vec []float32, feature string) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()

	bucket := int(sum>>1) % m.dim
	if sum&1 == 1 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}
