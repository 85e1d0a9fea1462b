// Package forward implements the per-token transformer forward pass:
// embedding lookup, per-layer RMSNorm/QKV/RoPE/attention/FFN, and the
// final classifier projection to logits. Every matmul is dispatched onto
// a worker pool; everything else runs on the calling goroutine.
package forward

import (
	"fmt"
	"os"
	"time"

	"github.com/tejas242/vellum/internal/session"
	"github.com/tejas242/vellum/internal/tokenizer"
	"github.com/tejas242/vellum/internal/workerpool"
)

// Step advances sess by one token at its current position. If isPrompt is
// true the returned token is always sess.Token unchanged (the logits are
// computed but discarded); otherwise it is the sampler's draw.
//
// A weight-cache miss mid-forward, or an input token outside the
// vocabulary, is reported to the diagnostic channel and surfaces as
// tokenizer.BOS rather than an error — the scheduler treats a sampled BOS
// as a terminal signal and destroys the session cleanly rather than
// threading a distinct failure path through every caller.
//
// Set VELLUM_DEBUG=1 to print per-step timing to stderr.
func Step(pool *workerpool.Pool, sess *session.Session, isPrompt bool) int {
	debug := os.Getenv("VELLUM_DEBUG") == "1"
	t0 := time.Now()

	m := sess.Model
	cfg := m.Config
	src := m.Source
	token := sess.Token

	if token < 0 || token >= cfg.VocabSize {
		return transient(fmt.Errorf("token %d outside vocabulary of size %d", token, cfg.VocabSize))
	}
	copy(sess.X, m.W.TokenEmbedding[token*cfg.Dim:(token+1)*cfg.Dim])

	kvDim := cfg.KVDim()
	for l := 0; l < cfg.NLayers; l++ {
		lw := m.W.Layers[l]

		rmsNorm(sess.Xb, sess.X, lw.RMSAtt)

		layerOff := l * cfg.SeqLen * kvDim
		kSlot := sess.KeyCache[layerOff+sess.Pos*kvDim : layerOff+sess.Pos*kvDim+kvDim]
		vSlot := sess.ValueCache[layerOff+sess.Pos*kvDim : layerOff+sess.Pos*kvDim+kvDim]

		if err := matmul(pool, sess, sess.Q, sess.Xb, &sess.Xq, lw.WQ, src); err != nil {
			return transient(err)
		}
		if err := matmul(pool, sess, kSlot, sess.Xb, &sess.Xq, lw.WK, src); err != nil {
			return transient(err)
		}
		if err := matmul(pool, sess, vSlot, sess.Xb, &sess.Xq, lw.WV, src); err != nil {
			return transient(err)
		}

		applyRoPE(sess.Q, kSlot, sess.Pos, cfg.HeadSize(), kvDim)

		attention(sess, cfg, l, sess.Pos)

		if err := matmul(pool, sess, sess.Xb2, sess.Xb, &sess.Xq, lw.WO, src); err != nil {
			return transient(err)
		}
		for i := range sess.X {
			sess.X[i] += sess.Xb2[i]
		}

		rmsNorm(sess.Xb, sess.X, lw.RMSFFN)

		if err := matmul(pool, sess, sess.Hb, sess.Xb, &sess.Xq, lw.W1, src); err != nil {
			return transient(err)
		}
		if err := matmul(pool, sess, sess.Hb2, sess.Xb, &sess.Xq, lw.W3, src); err != nil {
			return transient(err)
		}

		swiglu(sess.Hb, sess.Hb2)

		if err := matmul(pool, sess, sess.Xb, sess.Hb, &sess.Hq, lw.W2, src); err != nil {
			return transient(err)
		}
		for i := range sess.X {
			sess.X[i] += sess.Xb[i]
		}
	}

	rmsNorm(sess.X, sess.X, m.W.RMSFinal)
	if err := matmul(pool, sess, sess.Logits, sess.X, &sess.Xq, m.W.Classifier, src); err != nil {
		return transient(err)
	}

	if isPrompt {
		if debug {
			fmt.Fprintf(os.Stderr, "[forward] pos=%d prompt step in %s\n", sess.Pos, time.Since(t0))
		}
		return token
	}
	next := sess.Sampler.Sample(sess.Logits)
	if debug {
		fmt.Fprintf(os.Stderr, "[forward] pos=%d gen step in %s\n", sess.Pos, time.Since(t0))
	}
	return next
}

func transient(err error) int {
	fmt.Fprintf(os.Stderr, "[forward] step aborted: %v\n", err)
	return tokenizer.BOS
}
