// Package session owns the per-generation-context mutable state: scratch
// activation buffers, the KV cache, sampler state, and token-stream
// bookkeeping. A Session is driven one token at a time by the forward
// engine and the scheduler; the model it points at is immutable and
// shared with every other live session.
package session

import (
	"sync/atomic"

	"github.com/tejas242/vellum/internal/kernel"
	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/sampler"
	"github.com/tejas242/vellum/internal/workerpool"
)

// State is where a session sits in its per-step state machine.
type State int

const (
	FeedingPrompt State = iota
	Generating
	Terminal
)

// Emit is called once per piece produced: a partial UTF-8 token, or a
// single-byte EOS marker when the session reaches Terminal. opaque is
// returned unchanged from Options.Opaque.
type Emit func(piece []byte, opaque any)

// Options configures a new Session.
type Options struct {
	PromptTokens []int
	Temperature  float32
	TopP         float32
	RNGSeed      uint64
	Limit        int // 0 means SeqLen

	Callback Emit
	Opaque   any

	// NullOnDestroy, if non-nil, is cleared (set to nil) when the session
	// is destroyed, letting an external holder detect release race-free.
	NullOnDestroy *any
}

// Session is one independent generation context. All fields except the
// cancellation flag are touched only by the single scheduler/caller
// thread; matmul kernels write only into the disjoint output ranges the
// worker pool hands them.
type Session struct {
	Model *model.Model
	Sync  *workerpool.SessionSync

	// Activation scratch, sized by the model's dimensions.
	X, Xb, Xb2 []float32 // [dim]
	Hb, Hb2    []float32 // [hidden_dim]
	Q          []float32 // [dim] (n_heads*head_size)
	Att        []float32 // [n_heads * seq_len] attention-score scratch

	Xq, Hq kernel.QuantizedVector

	// KeyCache/ValueCache are [n_layers, seq_len, kv_dim], flattened.
	KeyCache, ValueCache []float32

	Logits []float32 // [vocab_size]

	Sampler *sampler.Sampler

	State        State
	Pos          int
	Limit        int
	PromptTokens []int
	Token        int // the token about to be fed into forward
	NextToken    int // sampled/prompt token that will follow

	callback Emit
	opaque   any

	nullOnDestroy *any
	cancelled     atomic.Bool
}

// New allocates every scratch buffer as described by m's configuration and
// seeds the sampler and RNG from opts.
func New(m *model.Model, pool *workerpool.Pool, opts Options) *Session {
	cfg := m.Config
	limit := opts.Limit
	if limit <= 0 || limit > cfg.SeqLen {
		limit = cfg.SeqLen
	}

	s := &Session{
		Model:        m,
		Sync:         pool.NewSessionSync(),
		X:            make([]float32, cfg.Dim),
		Xb:           make([]float32, cfg.Dim),
		Xb2:          make([]float32, cfg.Dim),
		Hb:           make([]float32, cfg.HiddenDim),
		Hb2:          make([]float32, cfg.HiddenDim),
		Q:            make([]float32, cfg.Dim),
		Att:          make([]float32, cfg.NHeads*cfg.SeqLen),
		KeyCache:     make([]float32, cfg.NLayers*cfg.SeqLen*cfg.KVDim()),
		ValueCache:   make([]float32, cfg.NLayers*cfg.SeqLen*cfg.KVDim()),
		Logits:       make([]float32, cfg.VocabSize),
		Sampler:      sampler.New(cfg.VocabSize, opts.Temperature, opts.TopP, opts.RNGSeed),
		State:        FeedingPrompt,
		Limit:        limit,
		PromptTokens: opts.PromptTokens,
		callback:     opts.Callback,
		opaque:       opts.Opaque,
		nullOnDestroy: opts.NullOnDestroy,
	}
	if cfg.Version == model.VersionInt8Grouped {
		s.Xq = kernel.QuantizedVector{
			Q: make([]int8, cfg.Dim), S: make([]float32, cfg.Dim/cfg.GroupSize), GroupSize: cfg.GroupSize,
		}
		s.Hq = kernel.QuantizedVector{
			Q: make([]int8, cfg.HiddenDim), S: make([]float32, cfg.HiddenDim/cfg.GroupSize), GroupSize: cfg.GroupSize,
		}
	}
	if len(s.PromptTokens) > 0 {
		s.Token = s.PromptTokens[0]
	}
	if len(s.PromptTokens) <= 1 {
		s.State = Generating
	}
	return s
}

// Cancel marks the session for termination; the scheduler observes this at
// the next step boundary.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Emit delivers a piece through the session's callback, if any.
func (s *Session) Emit(piece []byte) {
	if s.callback != nil {
		s.callback(piece, s.opaque)
	}
}

// Destroy releases the session's NullOnDestroy slot, if set, so external
// holders can detect the release race-free.
func (s *Session) Destroy() {
	if s.nullOnDestroy != nil {
		*s.nullOnDestroy = nil
	}
}
