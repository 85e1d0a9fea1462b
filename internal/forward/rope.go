package forward

import "math"

// applyRoPE rotates each adjacent dimension pair of q (and, for the pairs
// within kvDim, of k) by a position-dependent angle. Rotation frequency
// decreases across a head's dimensions so early channels encode
// fine-grained position and later channels encode coarse position.
func applyRoPE(q, k []float32, pos, headSize, kvDim int) {
	for i := 0; i < len(q); i += 2 {
		headOffset := i % headSize
		freq := 1.0 / math.Pow(10000, float64(headOffset)/float64(headSize))
		angle := float64(pos) * freq
		fcr := float32(math.Cos(angle))
		fci := float32(math.Sin(angle))

		rotatePair(q, i, fcr, fci)
		if i < kvDim {
			rotatePair(k, i, fcr, fci)
		}
	}
}

func rotatePair(v []float32, i int, fcr, fci float32) {
	v0, v1 := v[i], v[i+1]
	v[i] = v0*fcr - v1*fci
	v[i+1] = v0*fci + v1*fcr
}
