package checkpoint

import (
	"encoding/binary"

	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/weights"
)

// v1HeaderSize is seven little-endian uint32 fields.
const v1HeaderSize = 7 * 4

// loadV1 parses the plain-float checkpoint: a 28-byte header of signed
// dimensions (a negative vocab_size means the classifier is a distinct
// trailing tensor rather than an alias of the embedding table), followed
// by every weight tensor as contiguous float32 values in file order.
func loadV1(src *weights.Source) (model.Config, model.Weights, error) {
	hdr, err := src.Resolve(0, v1HeaderSize)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}
	field := func(i int) int32 {
		return int32(binary.LittleEndian.Uint32(hdr[i*4 : i*4+4]))
	}
	rawVocab := int(field(5))
	vocabSize := rawVocab
	sharedClassifier := rawVocab > 0
	if vocabSize < 0 {
		vocabSize = -vocabSize
	}

	cfg := model.Config{
		Dim:              int(field(0)),
		HiddenDim:        int(field(1)),
		NLayers:          int(field(2)),
		NHeads:           int(field(3)),
		NKVHeads:         int(field(4)),
		VocabSize:        vocabSize,
		SeqLen:           int(field(6)),
		SharedClassifier: sharedClassifier,
		Version:          model.VersionFloat,
	}
	if err := cfg.Validate(nil); err != nil {
		return model.Config{}, model.Weights{}, err
	}

	kvDim := cfg.KVDim()
	off := int64(v1HeaderSize)

	tokenEmbeddingHandle := takeFloatHandle(&off, cfg.VocabSize, cfg.Dim)
	tokenEmbedding, err := tokenEmbeddingHandle.Resolve(src)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}

	layers := make([]model.LayerWeights, cfg.NLayers)

	rmsAtt, err := takeFloats(src, &off, cfg.NLayers*cfg.Dim)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}
	for l := range layers {
		layers[l].RMSAtt = rmsAtt[l*cfg.Dim : (l+1)*cfg.Dim]
	}

	for l := range layers {
		layers[l].WQ = takeFloatHandle(&off, cfg.Dim, cfg.Dim)
	}
	for l := range layers {
		layers[l].WK = takeFloatHandle(&off, kvDim, cfg.Dim)
	}
	for l := range layers {
		layers[l].WV = takeFloatHandle(&off, kvDim, cfg.Dim)
	}
	for l := range layers {
		layers[l].WO = takeFloatHandle(&off, cfg.Dim, cfg.Dim)
	}

	rmsFFN, err := takeFloats(src, &off, cfg.NLayers*cfg.Dim)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}
	for l := range layers {
		layers[l].RMSFFN = rmsFFN[l*cfg.Dim : (l+1)*cfg.Dim]
	}

	for l := range layers {
		layers[l].W1 = takeFloatHandle(&off, cfg.HiddenDim, cfg.Dim)
	}
	for l := range layers {
		layers[l].W2 = takeFloatHandle(&off, cfg.Dim, cfg.HiddenDim)
	}
	for l := range layers {
		layers[l].W3 = takeFloatHandle(&off, cfg.HiddenDim, cfg.Dim)
	}

	rmsFinal, err := takeFloats(src, &off, cfg.Dim)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}

	// Two legacy RoPE tables of length seq_len*head_size/2 follow; neither
	// is used since RoPE angles are computed directly from position.
	off += int64(cfg.SeqLen*cfg.HeadSize()/2) * 4 * 2

	classifier := tokenEmbeddingHandle
	if !cfg.SharedClassifier {
		classifier = takeFloatHandle(&off, cfg.VocabSize, cfg.Dim)
	}

	return cfg, model.Weights{
		TokenEmbedding: tokenEmbedding,
		Layers:         layers,
		RMSFinal:       rmsFinal,
		Classifier:     classifier,
	}, nil
}
