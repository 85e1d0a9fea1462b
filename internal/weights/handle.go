package weights

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// Handle addresses one logical weight tensor inside the checkpoint. Float
// tensors are a flat run of float32 values at FloatOffset; int8-grouped
// tensors are a (q, s) pair, with one float32 scale per GroupSize
// consecutive int8 values.
type Handle struct {
	Int8      bool
	Rows      int // d
	Cols      int // n, so Len() == Rows*Cols
	GroupSize int // only meaningful when Int8 is set

	FloatOffset int64 // byte offset of the float32 run; unused when Int8

	QOffset int64 // byte offset of q[] (int8 values, 1 byte each)
	SOffset int64 // byte offset of s[] (float32 scales, one per group)
}

// Len is the element count (Rows*Cols).
func (h Handle) Len() int { return h.Rows * h.Cols }

// Resolve reads h's backing bytes out of src. For a float handle it returns
// the dequantized-if-needed float32 values (always materialized once,
// per the "token-embedding is read-mostly" treatment applied uniformly to
// any tensor the caller dequantizes eagerly). For matmul kernels that must
// stay in quantized form (the hot path), use ResolveQuantized instead.
func (h Handle) Resolve(src *Source) ([]float32, error) {
	if !h.Int8 {
		return src.ResolveFloats(h.FloatOffset, h.Len())
	}
	q, err := src.ResolveInt8(h.QOffset, h.Len())
	if err != nil {
		return nil, err
	}
	nGroups := h.Len() / h.GroupSize
	s, err := src.ResolveFloats(h.SOffset, nGroups)
	if err != nil {
		return nil, err
	}
	out := make([]float32, h.Len())
	for i := range out {
		out[i] = float32(q[i]) * s[i/h.GroupSize]
	}
	return out, nil
}

// QuantizedSpan is a resolved (q, s) view of an int8-grouped tensor, used
// directly by the int8 matmul kernel without dequantizing the whole tensor.
type QuantizedSpan struct {
	Q         []int8
	S         []float32
	GroupSize int
}

// ResolveQuantized returns h's raw (q, s) spans without dequantizing. h must
// have Int8 set.
func (h Handle) ResolveQuantized(src *Source) (QuantizedSpan, error) {
	if !h.Int8 {
		return QuantizedSpan{}, fmt.Errorf("weights.Handle.ResolveQuantized: not an int8 handle")
	}
	q, err := src.ResolveInt8(h.QOffset, h.Len())
	if err != nil {
		return QuantizedSpan{}, err
	}
	nGroups := h.Len() / h.GroupSize
	s, err := src.ResolveFloats(h.SOffset, nGroups)
	if err != nil {
		return QuantizedSpan{}, err
	}
	return QuantizedSpan{Q: q, S: s, GroupSize: h.GroupSize}, nil
}

// ResolveFloatSpan returns h's raw float32 row-major span without any
// dequantization; h must not be an int8 handle. Used by the float matmul
// kernel to read W directly.
func (h Handle) ResolveFloatSpan(src *Source) ([]float32, error) {
	if h.Int8 {
		return nil, fmt.Errorf("weights.Handle.ResolveFloatSpan: handle is int8-grouped")
	}
	return src.ResolveFloats(h.FloatOffset, h.Len())
}

// ResolveFloats resolves n float32 values starting at byte offset off.
// Zero-copy (reinterpreted in place) for AccessMMap/AccessAddress; a
// decoded copy for AccessReadCache, since cache entries are already a copy
// of the file contents.
func (s *Source) ResolveFloats(off int64, n int) ([]float32, error) {
	b, err := s.Resolve(off, int64(n)*4)
	if err != nil {
		return nil, err
	}
	if s.mode == AccessReadCache {
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return out, nil
	}
	if n == 0 {
		return nil, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n), nil
}

// ResolveInt8 resolves n int8 values starting at byte offset off.
func (s *Source) ResolveInt8(off int64, n int) ([]int8, error) {
	b, err := s.Resolve(off, int64(n))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if s.mode == AccessReadCache {
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(b[i])
		}
		return out, nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), n), nil
}
