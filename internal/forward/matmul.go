package forward

import (
	"github.com/tejas242/vellum/internal/kernel"
	"github.com/tejas242/vellum/internal/session"
	"github.com/tejas242/vellum/internal/weights"
	"github.com/tejas242/vellum/internal/workerpool"
)

// matmul dispatches y = W·x across the worker pool and blocks until every
// worker's share has completed. xq is the session's reusable quantized-
// activation scratch for x's size; it is only touched when h is int8.
func matmul(pool *workerpool.Pool, sess *session.Session, y, x []float32, xq *kernel.QuantizedVector, h weights.Handle, src *weights.Source) error {
	if h.Int8 {
		kernel.Quantize(xq, x)
		w, err := h.ResolveQuantized(src)
		if err != nil {
			return err
		}
		n := h.Cols
		pool.Dispatch(sess.Sync, h.Rows, func(i0, dlim int) {
			kernel.MatmulInt8Range(y, *xq, w, n, i0, dlim)
		})
		pool.SyncPoint(sess.Sync)
		return nil
	}

	w, err := h.ResolveFloatSpan(src)
	if err != nil {
		return err
	}
	n := h.Cols
	pool.Dispatch(sess.Sync, h.Rows, func(i0, dlim int) {
		kernel.MatmulFloatRange(y, x, w, n, i0, dlim)
	})
	pool.SyncPoint(sess.Sync)
	return nil
}
