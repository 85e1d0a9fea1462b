// Package tokenizer implements a SentencePiece-compatible BPE encoder and
// decoder: a vocabulary with a sort-by-piece lookup index and per-piece
// merge scores, greedy highest-score adjacent-pair
// merging, byte-fallback for unknown codepoints, and the dummy leading-
// space prefix convention.
package tokenizer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tejas242/vellum/internal/vellumerr"
)

// Reserved token IDs.
const (
	UNK = 0
	BOS = 1
	EOS = 2
)

// Vocabulary is the loaded piece table plus a sort-by-piece index for
// O(log N) lookup during BPE merging.
type Vocabulary struct {
	pieces  [][]byte
	scores  []float32
	byPiece []int // indices into pieces/scores, sorted by piece bytes

	maxTokenLength int

	// decodeScratch is the model-scoped 16-byte buffer the decoder writes
	// <0xAB>-escape output into. It is scoped to the Vocabulary, not to a
	// session, because decoding only ever happens from the single
	// round-robin scheduling loop driving all sessions.
	decodeScratch [16]byte
}

// Load reads a tokenizer file: uint32 max_token_length, then for each of
// size vocabulary entries {float32 score, uint32 len, len bytes piece}.
func Load(path string, size int) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vellumerr.New(vellumerr.IOFailure, "tokenizer.Load", err)
	}
	defer f.Close()
	return loadFrom(f, size)
}

func loadFrom(r io.Reader, size int) (*Vocabulary, error) {
	var maxLen uint32
	if err := binary.Read(r, binary.LittleEndian, &maxLen); err != nil {
		return nil, vellumerr.New(vellumerr.IOFailure, "tokenizer.Load", fmt.Errorf("read max_token_length: %w", err))
	}

	v := &Vocabulary{
		pieces:         make([][]byte, size),
		scores:         make([]float32, size),
		maxTokenLength: int(maxLen),
	}

	for i := 0; i < size; i++ {
		var score float32
		if err := binary.Read(r, binary.LittleEndian, &score); err != nil {
			return nil, vellumerr.New(vellumerr.IOFailure, "tokenizer.Load", fmt.Errorf("read score[%d]: %w", i, err))
		}
		var plen uint32
		if err := binary.Read(r, binary.LittleEndian, &plen); err != nil {
			return nil, vellumerr.New(vellumerr.IOFailure, "tokenizer.Load", fmt.Errorf("read len[%d]: %w", i, err))
		}
		piece := make([]byte, plen)
		if _, err := io.ReadFull(r, piece); err != nil {
			return nil, vellumerr.New(vellumerr.IOFailure, "tokenizer.Load", fmt.Errorf("read piece[%d]: %w", i, err))
		}
		v.scores[i] = score
		v.pieces[i] = piece
	}

	v.byPiece = make([]int, size)
	for i := range v.byPiece {
		v.byPiece[i] = i
	}
	sort.Slice(v.byPiece, func(i, j int) bool {
		return string(v.pieces[v.byPiece[i]]) < string(v.pieces[v.byPiece[j]])
	})

	return v, nil
}

// Size is the vocabulary size.
func (v *Vocabulary) Size() int { return len(v.pieces) }

// Piece returns the raw bytes for token id.
func (v *Vocabulary) Piece(id int) []byte { return v.pieces[id] }

// Score returns the merge score for token id.
func (v *Vocabulary) Score(id int) float32 { return v.scores[id] }

// Lookup finds the token id whose piece bytes equal s, or (-1, false).
func (v *Vocabulary) Lookup(s []byte) (int, bool) {
	n := len(v.byPiece)
	i := sort.Search(n, func(i int) bool {
		return string(v.pieces[v.byPiece[i]]) >= string(s)
	})
	if i < n && string(v.pieces[v.byPiece[i]]) == string(s) {
		return v.byPiece[i], true
	}
	return -1, false
}
