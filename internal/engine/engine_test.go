package engine_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/tejas242/vellum/internal/engine"
	"github.com/tejas242/vellum/internal/weights"
)

func putF32(buf *bytes.Buffer, vals ...float32) {
	for _, v := range vals {
		binary.Write(buf, binary.LittleEndian, v)
	}
}

func seqFloats(n int, start, step float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + step*float32(i)
	}
	return out
}

func writeTinyCheckpoint(t *testing.T) (ckptPath, tokPath string) {
	t.Helper()
	dim, hiddenDim, nLayers, nHeads, nKVHeads, vocab, seqLen := 4, 8, 1, 2, 1, 16, 8
	headSize := dim / nHeads
	kvDim := (dim / nHeads) * nKVHeads

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(dim))
	binary.Write(&buf, binary.LittleEndian, int32(hiddenDim))
	binary.Write(&buf, binary.LittleEndian, int32(nLayers))
	binary.Write(&buf, binary.LittleEndian, int32(nHeads))
	binary.Write(&buf, binary.LittleEndian, int32(nKVHeads))
	binary.Write(&buf, binary.LittleEndian, int32(vocab))
	binary.Write(&buf, binary.LittleEndian, int32(seqLen))

	putF32(&buf, seqFloats(vocab*dim, 0.01, 0.01)...)
	putF32(&buf, seqFloats(nLayers*dim, 1, 0)...)
	putF32(&buf, seqFloats(nLayers*dim*dim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(nLayers*kvDim*dim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(nLayers*kvDim*dim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(nLayers*dim*dim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(nLayers*dim, 1, 0)...)
	putF32(&buf, seqFloats(nLayers*hiddenDim*dim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(nLayers*dim*hiddenDim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(nLayers*hiddenDim*dim, -0.03, 0.01)...)
	putF32(&buf, seqFloats(dim, 1, 0)...)
	putF32(&buf, seqFloats(seqLen*headSize/2*2, 0, 0)...)

	dir := t.TempDir()
	ckptPath = filepath.Join(dir, "model.bin")
	if err := os.WriteFile(ckptPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	var tok bytes.Buffer
	binary.Write(&tok, binary.LittleEndian, uint32(8))
	for i := 0; i < vocab; i++ {
		binary.Write(&tok, binary.LittleEndian, float32(0))
		piece := []byte{byte(' ' + i)}
		binary.Write(&tok, binary.LittleEndian, uint32(len(piece)))
		tok.Write(piece)
	}
	tokPath = filepath.Join(dir, "tok.bin")
	if err := os.WriteFile(tokPath, tok.Bytes(), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	return ckptPath, tokPath
}

func TestLoadRejectsAPIVersionMismatch(t *testing.T) {
	ckptPath, tokPath := writeTinyCheckpoint(t)
	e := engine.New()
	_, err := e.Load(engine.ModelOptions{
		CheckpointPath: ckptPath,
		TokenizerPath:  tokPath,
		AccessMode:     weights.AccessReadCache,
		CacheLimit:     1 << 20,
		APIVersion:     engine.APIVersion + 1,
	})
	if err == nil {
		t.Fatal("expected an error for mismatched api_version")
	}
}

func TestNewSessionEnforcesMaxSessions(t *testing.T) {
	ckptPath, tokPath := writeTinyCheckpoint(t)
	e := engine.New()
	h, err := e.Load(engine.ModelOptions{
		CheckpointPath: ckptPath,
		TokenizerPath:  tokPath,
		AccessMode:     weights.AccessReadCache,
		CacheLimit:     1 << 20,
		Threads:        2,
		MaxSessions:    1,
		APIVersion:     engine.APIVersion,
		Name:           "tiny",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Destroy("tiny")

	_, err = h.NewSession(engine.SessionOptions{Prompt: "hello", Limit: 4})
	if err != nil {
		t.Fatalf("first NewSession: %v", err)
	}
	if _, err := h.NewSession(engine.SessionOptions{Prompt: "again", Limit: 4}); err == nil {
		t.Fatal("expected ResourceExhausted once max_sessions is reached")
	}
}

func TestStepNextDrivesSessionToCompletion(t *testing.T) {
	ckptPath, tokPath := writeTinyCheckpoint(t)
	e := engine.New()
	h, err := e.Load(engine.ModelOptions{
		CheckpointPath: ckptPath,
		TokenizerPath:  tokPath,
		AccessMode:     weights.AccessReadCache,
		CacheLimit:     1 << 20,
		Threads:        1,
		APIVersion:     engine.APIVersion,
		Name:           "tiny2",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Destroy("tiny2")

	var pieces [][]byte
	_, err = h.NewSession(engine.SessionOptions{
		Prompt: "hi",
		Limit:  5,
		Callback: func(piece []byte, opaque any) {
			pieces = append(pieces, append([]byte{}, piece...))
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	steps := 0
	for h.StepNext() && steps < 100 {
		steps++
	}
	if len(pieces) == 0 {
		t.Fatal("expected at least the terminal EOS piece to be emitted")
	}
}
