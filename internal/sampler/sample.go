package sampler

import (
	"math"
	"sort"
)

// Sampler draws the next token from a logits vector. Each session owns
// one, seeded independently, so a fixed seed and a fixed prompt always
// reproduce the same token sequence, and temperature == 0 output never
// depends on the seed at all.
type Sampler struct {
	Temperature float32
	TopP        float32
	rng         *RNG

	// idx is reused scratch sized to the vocabulary, avoiding a per-sample
	// allocation for the candidate-index list nucleus sampling builds.
	idx []int
}

// New builds a Sampler for a vocabulary of size vocabSize.
func New(vocabSize int, temperature, topp float32, seed uint64) *Sampler {
	return &Sampler{
		Temperature: temperature,
		TopP:        topp,
		rng:         NewRNG(seed),
		idx:         make([]int, vocabSize),
	}
}

// Sample mutates logits in place (dividing by temperature and applying
// softmax) and returns the drawn token id.
func (s *Sampler) Sample(logits []float32) int {
	if s.Temperature == 0 {
		return argmax(logits)
	}

	for i := range logits {
		logits[i] /= s.Temperature
	}
	softmaxInPlace(logits)

	coin := s.rng.NextFloat32()

	if s.TopP <= 0 || s.TopP >= 1 {
		return multinomial(logits, coin)
	}
	return s.nucleus(logits, coin)
}

func argmax(logits []float32) int {
	best := 0
	bestV := logits[0]
	for i, v := range logits {
		if v > bestV {
			bestV = v
			best = i
		}
	}
	return best
}

// softmaxInPlace applies a numerically stable softmax (max-shift) over v.
func softmaxInPlace(v []float32) {
	maxV := v[0]
	for _, x := range v {
		if x > maxV {
			maxV = x
		}
	}
	var sum float32
	for i, x := range v {
		e := expf(x - maxV)
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}

// multinomial draws by inverse CDF against coin; if rounding error leaves
// no index chosen, returns the last one.
func multinomial(probs []float32, coin float32) int {
	var cdf float32
	for i, p := range probs {
		cdf += p
		if coin < cdf {
			return i
		}
	}
	return len(probs) - 1
}

// nucleus implements top-p sampling: filter to indices whose probability
// clears (1-topp)/(n-1), sort descending, truncate at the first prefix
// whose cumulative probability reaches topp, rescale coin by that
// cumulative mass, then inverse-CDF-sample the truncated set.
func (s *Sampler) nucleus(probs []float32, coin float32) int {
	n := len(probs)
	cutoff := (1 - s.TopP) / float32(n-1)

	s.idx = s.idx[:0]
	for i, p := range probs {
		if p >= cutoff {
			s.idx = append(s.idx, i)
		}
	}

	sort.Slice(s.idx, func(a, b int) bool {
		return probs[s.idx[a]] > probs[s.idx[b]]
	})

	var cumulative float32
	cut := len(s.idx) - 1
	for i, idx := range s.idx {
		cumulative += probs[idx]
		if cumulative >= s.TopP {
			cut = i
			break
		}
	}
	truncated := s.idx[:cut+1]

	r := coin * cumulative
	var cdf float32
	for _, idx := range truncated {
		cdf += probs[idx]
		if r < cdf {
			return idx
		}
	}
	return truncated[len(truncated)-1]
}

func expf(x float32) float32 {
	return float32(math.Exp(float64(x)))
}
