// Package kernel implements the inner matrix-vector products: a float32
// dot-product kernel and a group-quantized int8 kernel, each computing one
// contiguous row range [i0, dlim) of y = W·x.
//
// Both kernels are pure functions over pre-resolved spans so the worker
// pool (internal/workerpool) can call them from any goroutine without
// touching the weight cache itself.
package kernel

import "github.com/tejas242/vellum/internal/weights"

// MatmulFloatRange computes y[i] = sum_j w[i*n+j] * x[j] for i in
// [i0, dlim), where w is row-major (d, n) and x has length n.
func MatmulFloatRange(y, x, w []float32, n, i0, dlim int) {
	for i := i0; i < dlim; i++ {
		row := w[i*n : i*n+n]
		var sum float32
		for j, xv := range x {
			sum += row[j] * xv
		}
		y[i] = sum
	}
}

// QuantizedVector is a quantized activation vector: xq.Q[i] holds the
// rounded value and xq.S[group] the shared scale for every GroupSize
// consecutive entries.
type QuantizedVector struct {
	Q         []int8
	S         []float32
	GroupSize int
}

// Quantize fills xq (reusing its backing arrays) with the int8-grouped
// quantization of x: each group of GroupSize consecutive values shares one
// scale equal to the group's maximum absolute value divided by 127.
func Quantize(xq *QuantizedVector, x []float32) {
	groupSize := xq.GroupSize
	nGroups := len(x) / groupSize
	for g := 0; g < nGroups; g++ {
		group := x[g*groupSize : (g+1)*groupSize]
		var maxAbs float32
		for _, v := range group {
			a := v
			if a < 0 {
				a = -a
			}
			if a > maxAbs {
				maxAbs = a
			}
		}
		scale := maxAbs / 127.0
		xq.S[g] = scale
		if scale == 0 {
			for i := range group {
				xq.Q[g*groupSize+i] = 0
			}
			continue
		}
		inv := 1.0 / scale
		for i, v := range group {
			q := v * inv
			xq.Q[g*groupSize+i] = int8(roundNearest(q))
		}
	}
}

func roundNearest(v float32) float32 {
	if v >= 0 {
		return float32(int32(v + 0.5))
	}
	return float32(int32(v - 0.5))
}

// MatmulInt8Range computes the int8-grouped matmul for output rows
// [i0, dlim): for each output i and each group start j (step GroupSize),
// accumulate an int32 dot product over the group, then scale by W's scale
// for that group times x's scale for that group.
func MatmulInt8Range(y []float32, xq QuantizedVector, w weights.QuantizedSpan, n, i0, dlim int) {
	groupSize := xq.GroupSize
	for i := i0; i < dlim; i++ {
		var sum float32
		rowOff := i * n
		for j := 0; j < n; j += groupSize {
			var acc int32
			wg := w.Q[rowOff+j : rowOff+j+groupSize]
			xg := xq.Q[j : j+groupSize]
			for k := 0; k < groupSize; k++ {
				acc += int32(xg[k]) * int32(wg[k])
			}
			wScale := w.S[(rowOff+j)/groupSize]
			xScale := xq.S[j/groupSize]
			sum += float32(acc) * wScale * xScale
		}
		y[i] = sum
	}
}
