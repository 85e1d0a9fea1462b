package forward

import "math"

// rmsNorm computes out[j] = weight[j] * x[j] / sqrt(mean(x^2) + eps), the
// affine scale-only normalization every transformer block applies before
// its attention and feed-forward sublayers. out and x may alias.
func rmsNorm(out, x, weight []float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	ss /= float32(len(x))
	ss += 1e-5
	scale := float32(1.0 / math.Sqrt(float64(ss)))
	for i, v := range x {
		out[i] = weight[i] * (v * scale)
	}
}
