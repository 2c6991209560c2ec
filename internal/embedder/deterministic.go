package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// deterministicClient hashes byte 3-grams into a fixed-size vector and
// optionally L2-normalizes the result. It produces the same vector for
// the same text on every call, which makes it suitable for tests and for
// local development without a live embedding endpoint.
type deterministicClient struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a deterministic Embedder of the given
// dimension. Vectors are L2-normalized when normalize is true, matching
// the COSINE-metric assumption in spec §4.1.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return wrap(&deterministicClient{dim: dim, normalize: normalize, seed: seed})
}

func (d *deterministicClient) embedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicClient) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v
	}
	b := []byte(s)
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
