package checkpoint

import (
	"encoding/binary"

	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/weights"
)

// v2HeaderSize is the fixed, padded header preceding the int8-grouped body.
const v2HeaderSize = 256

// loadV2 parses the group-quantized int8 checkpoint: a 256-byte header
// (magic, version, seven uint32 config fields, a shared_classifier byte,
// and an unaligned group_size uint32), followed by the norm weights as
// plain float32 and every projection tensor as (q[], s[]) pairs.
func loadV2(src *weights.Source) (model.Config, model.Weights, error) {
	hdr, err := src.Resolve(0, v2HeaderSize)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}
	field := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(hdr[8+i*4 : 12+i*4])))
	}
	sharedClassifier := hdr[36] != 0
	groupSize := int(binary.LittleEndian.Uint32(hdr[37:41]))

	cfg := model.Config{
		Dim:              field(0),
		HiddenDim:        field(1),
		NLayers:          field(2),
		NHeads:           field(3),
		NKVHeads:         field(4),
		VocabSize:        field(5),
		SeqLen:           field(6),
		GroupSize:        groupSize,
		SharedClassifier: sharedClassifier,
		Version:          model.VersionInt8Grouped,
	}

	kvDim := cfg.KVDim()
	elementCounts := map[string]int{
		"wq": cfg.Dim * cfg.Dim,
		"wk": kvDim * cfg.Dim,
		"wv": kvDim * cfg.Dim,
		"wo": cfg.Dim * cfg.Dim,
		"w1": cfg.HiddenDim * cfg.Dim,
		"w2": cfg.Dim * cfg.HiddenDim,
		"w3": cfg.HiddenDim * cfg.Dim,
		"q_tokens": cfg.VocabSize * cfg.Dim,
	}
	if err := cfg.Validate(elementCounts); err != nil {
		return model.Config{}, model.Weights{}, err
	}

	off := int64(v2HeaderSize)

	rmsAtt, err := takeFloats(src, &off, cfg.NLayers*cfg.Dim)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}
	rmsFFN, err := takeFloats(src, &off, cfg.NLayers*cfg.Dim)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}
	rmsFinal, err := takeFloats(src, &off, cfg.Dim)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}

	tokenEmbeddingHandle := takeQuantHandle(&off, cfg.VocabSize, cfg.Dim, groupSize)
	tokenEmbedding, err := tokenEmbeddingHandle.Resolve(src)
	if err != nil {
		return model.Config{}, model.Weights{}, err
	}

	layers := make([]model.LayerWeights, cfg.NLayers)
	for l := range layers {
		layers[l].RMSAtt = rmsAtt[l*cfg.Dim : (l+1)*cfg.Dim]
		layers[l].RMSFFN = rmsFFN[l*cfg.Dim : (l+1)*cfg.Dim]
	}

	for l := range layers {
		layers[l].WQ = takeQuantHandle(&off, cfg.Dim, cfg.Dim, groupSize)
	}
	for l := range layers {
		layers[l].WK = takeQuantHandle(&off, kvDim, cfg.Dim, groupSize)
	}
	for l := range layers {
		layers[l].WV = takeQuantHandle(&off, kvDim, cfg.Dim, groupSize)
	}
	for l := range layers {
		layers[l].WO = takeQuantHandle(&off, cfg.Dim, cfg.Dim, groupSize)
	}
	for l := range layers {
		layers[l].W1 = takeQuantHandle(&off, cfg.HiddenDim, cfg.Dim, groupSize)
	}
	for l := range layers {
		layers[l].W2 = takeQuantHandle(&off, cfg.Dim, cfg.HiddenDim, groupSize)
	}
	for l := range layers {
		layers[l].W3 = takeQuantHandle(&off, cfg.HiddenDim, cfg.Dim, groupSize)
	}

	classifier := tokenEmbeddingHandle
	if !cfg.SharedClassifier {
		classifier = takeQuantHandle(&off, cfg.VocabSize, cfg.Dim, groupSize)
	}

	return cfg, model.Weights{
		TokenEmbedding: tokenEmbedding,
		Layers:         layers,
		RMSFinal:       rmsFinal,
		Classifier:     classifier,
	}, nil
}
