package checkpoint

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/weights"
)

// writeTokenizerFile builds a minimal on-disk vocabulary of size n with
// single-character pieces, sufficient to satisfy checkpoint.Load's call
// into the tokenizer package.
func writeTokenizerFile(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "tok.bin")
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	for i := 0; i < n; i++ {
		binary.Write(&buf, binary.LittleEndian, float32(0))
		piece := []byte{byte('a' + i)}
		binary.Write(&buf, binary.LittleEndian, uint32(len(piece)))
		buf.Write(piece)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write tokenizer file: %v", err)
	}
	return path
}

func putF32(buf *bytes.Buffer, vals ...float32) {
	for _, v := range vals {
		binary.Write(buf, binary.LittleEndian, v)
	}
}

func seqFloats(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestLoadV1SharedClassifierRoundTrips(t *testing.T) {
	dim, hiddenDim, nLayers, nHeads, nKVHeads, vocab, seqLen := 4, 8, 1, 2, 1, 6, 4
	headSize := dim / nHeads
	kvDim := (dim / nHeads) * nKVHeads

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(dim))
	binary.Write(&buf, binary.LittleEndian, int32(hiddenDim))
	binary.Write(&buf, binary.LittleEndian, int32(nLayers))
	binary.Write(&buf, binary.LittleEndian, int32(nHeads))
	binary.Write(&buf, binary.LittleEndian, int32(nKVHeads))
	binary.Write(&buf, binary.LittleEndian, int32(vocab)) // positive => shared classifier
	binary.Write(&buf, binary.LittleEndian, int32(seqLen))

	tokenEmbedding := seqFloats(vocab*dim, 1)
	putF32(&buf, tokenEmbedding...)
	putF32(&buf, seqFloats(nLayers*dim, 100)...) // rms_att
	putF32(&buf, seqFloats(nLayers*dim*dim, 200)...)
	putF32(&buf, seqFloats(nLayers*kvDim*dim, 300)...)
	putF32(&buf, seqFloats(nLayers*kvDim*dim, 400)...)
	putF32(&buf, seqFloats(nLayers*dim*dim, 500)...)
	putF32(&buf, seqFloats(nLayers*dim, 600)...) // rms_ffn
	putF32(&buf, seqFloats(nLayers*hiddenDim*dim, 700)...)
	putF32(&buf, seqFloats(nLayers*dim*hiddenDim, 800)...)
	putF32(&buf, seqFloats(nLayers*hiddenDim*dim, 900)...)
	putF32(&buf, seqFloats(dim, 1000)...) // rms_final
	putF32(&buf, seqFloats(seqLen*headSize/2*2, 0)...)

	dir := t.TempDir()
	tokPath := writeTokenizerFile(t, dir, vocab)

	m, err := Load(Options{
		AccessMode:  weights.AccessAddress,
		Address:     buf.Bytes(),
		TokenizerPath: tokPath,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	if m.Config.Dim != dim || m.Config.NLayers != nLayers || m.Config.VocabSize != vocab {
		t.Fatalf("config mismatch: %+v", m.Config)
	}
	if !m.Config.SharedClassifier {
		t.Fatal("expected shared classifier")
	}
	if !floatsEqual(m.W.TokenEmbedding, tokenEmbedding) {
		t.Fatalf("token embedding = %v, want %v", m.W.TokenEmbedding, tokenEmbedding)
	}

	wqSpan, err := m.W.Layers[0].WQ.ResolveFloatSpan(m.Source)
	if err != nil {
		t.Fatalf("resolve WQ: %v", err)
	}
	if !floatsEqual(wqSpan, seqFloats(dim*dim, 200)) {
		t.Fatalf("WQ = %v", wqSpan)
	}

	classifierSpan, err := m.W.Classifier.ResolveFloatSpan(m.Source)
	if err != nil {
		t.Fatalf("resolve classifier: %v", err)
	}
	if !floatsEqual(classifierSpan, tokenEmbedding) {
		t.Fatalf("shared classifier should alias token embedding, got %v", classifierSpan)
	}
}

func TestLoadV1SeparateClassifierTensor(t *testing.T) {
	dim, hiddenDim, nLayers, nHeads, nKVHeads, vocab, seqLen := 4, 8, 1, 2, 1, 6, 4
	headSize := dim / nHeads
	kvDim := (dim / nHeads) * nKVHeads

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(dim))
	binary.Write(&buf, binary.LittleEndian, int32(hiddenDim))
	binary.Write(&buf, binary.LittleEndian, int32(nLayers))
	binary.Write(&buf, binary.LittleEndian, int32(nHeads))
	binary.Write(&buf, binary.LittleEndian, int32(nKVHeads))
	binary.Write(&buf, binary.LittleEndian, int32(-vocab)) // negative => distinct classifier
	binary.Write(&buf, binary.LittleEndian, int32(seqLen))

	putF32(&buf, seqFloats(vocab*dim, 1)...)
	putF32(&buf, seqFloats(nLayers*dim, 100)...)
	putF32(&buf, seqFloats(nLayers*dim*dim, 200)...)
	putF32(&buf, seqFloats(nLayers*kvDim*dim, 300)...)
	putF32(&buf, seqFloats(nLayers*kvDim*dim, 400)...)
	putF32(&buf, seqFloats(nLayers*dim*dim, 500)...)
	putF32(&buf, seqFloats(nLayers*dim, 600)...)
	putF32(&buf, seqFloats(nLayers*hiddenDim*dim, 700)...)
	putF32(&buf, seqFloats(nLayers*dim*hiddenDim, 800)...)
	putF32(&buf, seqFloats(nLayers*hiddenDim*dim, 900)...)
	putF32(&buf, seqFloats(dim, 1000)...)
	putF32(&buf, seqFloats(seqLen*headSize/2*2, 0)...)
	classifierWeights := seqFloats(vocab*dim, 2000)
	putF32(&buf, classifierWeights...)

	dir := t.TempDir()
	tokPath := writeTokenizerFile(t, dir, vocab)

	m, err := Load(Options{
		AccessMode:  weights.AccessAddress,
		Address:     buf.Bytes(),
		TokenizerPath: tokPath,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	if m.Config.SharedClassifier {
		t.Fatal("expected distinct classifier")
	}
	classifierSpan, err := m.W.Classifier.ResolveFloatSpan(m.Source)
	if err != nil {
		t.Fatalf("resolve classifier: %v", err)
	}
	if !floatsEqual(classifierSpan, classifierWeights) {
		t.Fatalf("classifier = %v, want %v", classifierSpan, classifierWeights)
	}
}

func TestLoadV2DequantizesTokenEmbedding(t *testing.T) {
	dim, hiddenDim, nLayers, nHeads, nKVHeads, vocab, seqLen, groupSize := 4, 8, 1, 2, 1, 4, 4, 2
	kvDim := (dim / nHeads) * nKVHeads

	var buf bytes.Buffer
	header := make([]byte, v2HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], magicV2)
	binary.LittleEndian.PutUint32(header[4:8], 2)
	binary.LittleEndian.PutUint32(header[8:12], uint32(dim))
	binary.LittleEndian.PutUint32(header[12:16], uint32(hiddenDim))
	binary.LittleEndian.PutUint32(header[16:20], uint32(nLayers))
	binary.LittleEndian.PutUint32(header[20:24], uint32(nHeads))
	binary.LittleEndian.PutUint32(header[24:28], uint32(nKVHeads))
	binary.LittleEndian.PutUint32(header[28:32], uint32(vocab))
	binary.LittleEndian.PutUint32(header[32:36], uint32(seqLen))
	header[36] = 1 // shared classifier
	binary.LittleEndian.PutUint32(header[37:41], uint32(groupSize))
	buf.Write(header)

	putF32(&buf, seqFloats(nLayers*dim, 10)...)
	putF32(&buf, seqFloats(nLayers*dim, 20)...)
	putF32(&buf, seqFloats(dim, 30)...)

	// q_tokens: vocab*dim = 16 int8 values, 8 groups of 2, scale 1.0 so
	// dequantized values equal the quantized ones exactly.
	q := make([]int8, vocab*dim)
	for i := range q {
		q[i] = int8(i - 8)
	}
	buf.Write(int8sToBytes(q))
	nGroups := (vocab * dim) / groupSize
	putF32(&buf, onesFloats(nGroups)...)

	for l := 0; l < nLayers; l++ {
		buf.Write(int8sToBytes(make([]int8, dim*dim)))
		putF32(&buf, onesFloats(dim*dim/groupSize)...)
		buf.Write(int8sToBytes(make([]int8, kvDim*dim)))
		putF32(&buf, onesFloats(kvDim*dim/groupSize)...)
		buf.Write(int8sToBytes(make([]int8, kvDim*dim)))
		putF32(&buf, onesFloats(kvDim*dim/groupSize)...)
		buf.Write(int8sToBytes(make([]int8, dim*dim)))
		putF32(&buf, onesFloats(dim*dim/groupSize)...)
		buf.Write(int8sToBytes(make([]int8, hiddenDim*dim)))
		putF32(&buf, onesFloats(hiddenDim*dim/groupSize)...)
		buf.Write(int8sToBytes(make([]int8, dim*hiddenDim)))
		putF32(&buf, onesFloats(dim*hiddenDim/groupSize)...)
		buf.Write(int8sToBytes(make([]int8, hiddenDim*dim)))
		putF32(&buf, onesFloats(hiddenDim*dim/groupSize)...)
	}

	dir := t.TempDir()
	tokPath := writeTokenizerFile(t, dir, vocab)

	m, err := Load(Options{
		AccessMode:  weights.AccessAddress,
		Address:     buf.Bytes(),
		TokenizerPath: tokPath,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	if m.Config.Version != model.VersionInt8Grouped {
		t.Fatalf("version = %v, want int8-grouped", m.Config.Version)
	}
	if m.Config.GroupSize != groupSize {
		t.Fatalf("group size = %d, want %d", m.Config.GroupSize, groupSize)
	}
	for i, qi := range q {
		want := float32(qi)
		if m.W.TokenEmbedding[i] != want {
			t.Fatalf("token embedding[%d] = %v, want %v", i, m.W.TokenEmbedding[i], want)
		}
	}
}

func floatsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-6 {
			return false
		}
	}
	return true
}

func int8sToBytes(q []int8) []byte {
	out := make([]byte, len(q))
	for i, v := range q {
		out[i] = byte(v)
	}
	return out
}

func onesFloats(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
