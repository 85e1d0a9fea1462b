package forward

import (
	"math"

	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/session"
)

// attention runs grouped-query multi-head attention for layer l at
// position pos, reading the KV cache for positions [0, pos] and writing
// each head's weighted value sum into the corresponding slice of sess.Xb.
// kv_mul = n_heads / n_kv_heads lets kv_mul query heads share one
// key/value head.
func attention(sess *session.Session, cfg model.Config, l, pos int) {
	headSize := cfg.HeadSize()
	kvDim := cfg.KVDim()
	kvMul := cfg.KVMul()
	seqLen := cfg.SeqLen
	layerOff := l * seqLen * kvDim
	invSqrtHeadSize := 1.0 / math.Sqrt(float64(headSize))

	for h := 0; h < cfg.NHeads; h++ {
		qHead := sess.Q[h*headSize : h*headSize+headSize]
		attRow := sess.Att[h*seqLen : h*seqLen+seqLen]
		kvHead := h / kvMul

		for t := 0; t <= pos; t++ {
			off := layerOff + t*kvDim + kvHead*headSize
			kVec := sess.KeyCache[off : off+headSize]
			var score float32
			for i, qv := range qHead {
				score += qv * kVec[i]
			}
			attRow[t] = score * float32(invSqrtHeadSize)
		}

		softmaxInPlace(attRow[:pos+1])

		xbHead := sess.Xb[h*headSize : h*headSize+headSize]
		for i := range xbHead {
			xbHead[i] = 0
		}
		for t := 0; t <= pos; t++ {
			off := layerOff + t*kvDim + kvHead*headSize
			vVec := sess.ValueCache[off : off+headSize]
			a := attRow[t]
			for i := range xbHead {
				xbHead[i] += a * vVec[i]
			}
		}
	}
}

// softmaxInPlace applies a numerically stable (max-shift) softmax over v.
func softmaxInPlace(v []float32) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v {
		if x > maxV {
			maxV = x
		}
	}
	var sum float32
	for i, x := range v {
		e := float32(math.Exp(float64(x - maxV)))
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}
