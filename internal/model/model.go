// Package model defines the immutable, post-construction-frozen bundle of
// configuration, weights, and vocabulary that every session shares.
package model

import (
	"fmt"

	"github.com/tejas242/vellum/internal/tokenizer"
	"github.com/tejas242/vellum/internal/vellumerr"
	"github.com/tejas242/vellum/internal/weights"
)

// Version identifies the on-disk checkpoint format.
type Version int

const (
	// VersionFloat is the plain float32 checkpoint (v1).
	VersionFloat Version = iota + 1
	// VersionInt8Grouped is the group-quantized int8 checkpoint (v2).
	VersionInt8Grouped
)

// Config is the transformer's hyperparameters, invariant once the model is
// built.
type Config struct {
	Dim              int
	HiddenDim        int
	NLayers          int
	NHeads           int
	NKVHeads         int
	VocabSize        int
	SeqLen           int
	GroupSize        int // only meaningful for VersionInt8Grouped
	SharedClassifier bool
	Version          Version
}

// HeadSize is Dim / NHeads.
func (c Config) HeadSize() int { return c.Dim / c.NHeads }

// KVDim is the dimension of a single key/value projection (NKVHeads heads
// worth of HeadSize each).
func (c Config) KVDim() int { return (c.Dim / c.NHeads) * c.NKVHeads }

// KVMul is how many query heads share one key/value head under grouped-query
// attention.
func (c Config) KVMul() int { return c.NHeads / c.NKVHeads }

// Validate checks the constraints any constructed model must satisfy.
// elementCounts, when non-nil, maps a tensor name to its element
// count so int8-grouped divisibility can be checked; pass nil for the float
// path where groups do not apply.
func (c Config) Validate(elementCounts map[string]int) error {
	if c.Dim <= 0 || c.HiddenDim <= 0 || c.NLayers <= 0 || c.NHeads <= 0 ||
		c.NKVHeads <= 0 || c.VocabSize <= 0 || c.SeqLen <= 0 {
		return vellumerr.New(vellumerr.ConfigInvalid, "model.Config.Validate",
			fmt.Errorf("non-positive dimension in %+v", c))
	}
	if c.Dim%c.NHeads != 0 {
		return vellumerr.New(vellumerr.ConfigInvalid, "model.Config.Validate",
			fmt.Errorf("dim %d not divisible by n_heads %d", c.Dim, c.NHeads))
	}
	if c.NHeads%c.NKVHeads != 0 {
		return vellumerr.New(vellumerr.ConfigInvalid, "model.Config.Validate",
			fmt.Errorf("n_heads %d not divisible by n_kv_heads %d", c.NHeads, c.NKVHeads))
	}
	if c.Version == VersionInt8Grouped {
		if c.GroupSize <= 0 {
			return vellumerr.New(vellumerr.ConfigInvalid, "model.Config.Validate",
				fmt.Errorf("group_size must be positive in int8-grouped mode"))
		}
		for name, n := range elementCounts {
			if n%c.GroupSize != 0 {
				return vellumerr.New(vellumerr.ConfigInvalid, "model.Config.Validate",
					fmt.Errorf("tensor %q element count %d not divisible by group_size %d", name, n, c.GroupSize))
			}
		}
	}
	return nil
}

// LayerWeights are the per-layer tensors addressed through the weight cache.
// Small, read-mostly norm vectors are materialized as float32 slices at
// construction; the large projection tensors are addressed lazily via
// weights.Handle so read-cache mode never has to hold the whole model in
// memory at once.
type LayerWeights struct {
	RMSAtt []float32 // [dim]
	RMSFFN []float32 // [dim]

	WQ weights.Handle // [dim, n_heads*head_size]
	WK weights.Handle // [dim, n_kv_heads*head_size]
	WV weights.Handle // [dim, n_kv_heads*head_size]
	WO weights.Handle // [n_heads*head_size, dim]

	W1 weights.Handle // [dim, hidden_dim]
	W2 weights.Handle // [hidden_dim, dim]
	W3 weights.Handle // [dim, hidden_dim]
}

// Weights bundles every tensor of the model. TokenEmbedding is always a
// plain dequantized float32 slice (small and read-mostly). Classifier
// aliases TokenEmbedding when SharedClassifier is set.
type Weights struct {
	TokenEmbedding []float32 // [vocab_size, dim]
	Layers         []LayerWeights
	RMSFinal       []float32 // [dim]
	Classifier     weights.Handle
}

// Model is the immutable bundle shared by every session. It is safe for
// concurrent reads from any number of goroutines once checkpoint.Load
// returns it.
type Model struct {
	Config Config
	W      Weights
	Vocab  *tokenizer.Vocabulary
	Source *weights.Source

	// MaxSessions, if non-zero, caps how many sessions may be live against
	// this model at once (0 = unlimited).
	MaxSessions int
	Name        string
}

// Close releases the model's weight source (file handle / mapping).
func (m *Model) Close() error {
	if m.Source == nil {
		return nil
	}
	return m.Source.Close()
}
