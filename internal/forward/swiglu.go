package forward

import "math"

// swiglu applies the gated activation hb[i] = silu(hb[i]) * hb2[i], where
// silu(z) = z * sigmoid(z), in place over hb.
func swiglu(hb, hb2 []float32) {
	for i, v := range hb {
		sigmoid := 1.0 / (1.0 + float32(math.Exp(float64(-v))))
		hb[i] = v * sigmoid * hb2[i]
	}
}
