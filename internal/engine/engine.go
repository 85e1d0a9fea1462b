// Package engine is the public embedding surface: load a checkpoint into a
// named model, open sessions against it, and drive them with StepNext. It
// owns the model and session registries itself rather than reaching for
// package-level state, so an embedding process can run any number of
// independent engines side by side.
package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tejas242/vellum/internal/checkpoint"
	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/scheduler"
	"github.com/tejas242/vellum/internal/session"
	"github.com/tejas242/vellum/internal/vellumerr"
	"github.com/tejas242/vellum/internal/weights"
	"github.com/tejas242/vellum/internal/workerpool"
)

// APIVersion is bumped whenever ModelOptions or SessionOptions changes in a
// way that would silently misbehave against an older caller.
const APIVersion = 1

// Kind selects how NewSession wraps a prompt before tokenizing it.
type Kind int

const (
	// Gen concatenates system and user text with no special framing.
	Gen Kind = iota
	// Chat wraps the pair in the Llama-2 instruction template.
	Chat
)

// ModelOptions configures a checkpoint load.
type ModelOptions struct {
	CheckpointPath string
	TokenizerPath  string

	AccessMode weights.AccessMode
	CacheLimit int64
	Address    []byte // AccessAddress only

	Threads     int
	MaxSessions int
	Kind        Kind
	Name        string
	APIVersion  int
}

// SessionOptions configures one generation context.
type SessionOptions struct {
	Prompt       string
	SystemPrompt string
	Temperature  float32
	TopP         float32
	RNGSeed      uint64
	Limit        int

	Callback      session.Emit
	Opaque        any
	NullOnDestroy *any
}

// Handle is a loaded model together with the pool and scheduler its
// sessions share. The zero value is not usable; build one with Engine.Load.
type Handle struct {
	name  string
	kind  Kind
	model *model.Model
	pool  *workerpool.Pool
	sched *scheduler.Scheduler

	maxSessions int
}

// Name reports the model's registry key.
func (h *Handle) Name() string { return h.name }

// Live reports how many sessions the scheduler still considers live. A
// hot-reload coordinator polls this before tearing down a superseded
// handle so in-flight generations finish on the model they started on.
func (h *Handle) Live() int { return h.sched.Len() }

// Close releases the handle's worker pool and weight source directly,
// independent of whatever the engine's registry currently points at —
// used by a hot-reload coordinator once a superseded handle has drained.
func (h *Handle) Close() error {
	h.pool.Close()
	return h.model.Close()
}

// Engine owns a registry of named model handles. All methods are safe for
// concurrent use.
type Engine struct {
	mu     sync.Mutex
	models map[string]*Handle
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{models: make(map[string]*Handle)}
}

// Load parses opts.CheckpointPath and registers the resulting model under
// opts.Name, replacing any prior entry of the same name (the caller is
// responsible for destroying the old handle first if sessions still
// reference it). A version mismatch or a malformed checkpoint tears down
// whatever was partially constructed and returns a null handle.
//
// Set VELLUM_DEBUG=1 to print load timing to stderr.
func (e *Engine) Load(opts ModelOptions) (*Handle, error) {
	debug := os.Getenv("VELLUM_DEBUG") == "1"
	t0 := time.Now()

	if opts.APIVersion != APIVersion {
		return nil, vellumerr.New(vellumerr.ConfigInvalid, "engine.Load",
			fmt.Errorf("api_version %d does not match engine version %d", opts.APIVersion, APIVersion))
	}

	m, err := checkpoint.Load(checkpoint.Options{
		CheckpointPath: opts.CheckpointPath,
		TokenizerPath:  opts.TokenizerPath,
		AccessMode:     opts.AccessMode,
		CacheLimit:     opts.CacheLimit,
		Address:        opts.Address,
		MaxSessions:    opts.MaxSessions,
		Name:           opts.Name,
	})
	if err != nil {
		return nil, err
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}
	pool := workerpool.New(threads, threads*8)

	h := &Handle{
		name:        opts.Name,
		kind:        opts.Kind,
		model:       m,
		pool:        pool,
		sched:       scheduler.New(pool),
		maxSessions: opts.MaxSessions,
	}

	e.mu.Lock()
	e.models[opts.Name] = h
	e.mu.Unlock()

	if debug {
		fmt.Fprintf(os.Stderr, "[engine] loaded %q in %s\n", opts.Name, time.Since(t0))
	}
	return h, nil
}

// Model looks up a previously loaded handle by name.
func (e *Engine) Model(name string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.models[name]
	return h, ok
}

// Destroy releases the weight source and worker pool behind name and drops
// it from the registry. Any session still bound to the handle is left to
// the caller to cancel first; Destroy does not reach into the scheduler.
func (e *Engine) Destroy(name string) error {
	e.mu.Lock()
	h, ok := e.models[name]
	if ok {
		delete(e.models, name)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return h.Close()
}

// NewSession renders opts.SystemPrompt/opts.Prompt through the handle's
// chat or gen template, tokenizes the result with a leading BOS, and adds
// the resulting session to the round-robin scheduler. It fails with
// ResourceExhausted once MaxSessions live sessions are already scheduled.
func (h *Handle) NewSession(opts SessionOptions) (*session.Session, error) {
	if h.maxSessions > 0 && h.sched.Len() >= h.maxSessions {
		return nil, vellumerr.New(vellumerr.ResourceExhausted, "engine.NewSession",
			fmt.Errorf("max_sessions %d reached", h.maxSessions))
	}

	text := renderPrompt(h.kind, opts.SystemPrompt, opts.Prompt)
	tokens := h.model.Vocab.Encode(text, true, false)

	sess := session.New(h.model, h.pool, session.Options{
		PromptTokens:  tokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		RNGSeed:       opts.RNGSeed,
		Limit:         opts.Limit,
		Callback:      opts.Callback,
		Opaque:        opts.Opaque,
		NullOnDestroy: opts.NullOnDestroy,
	})
	h.sched.Add(sess)
	return sess, nil
}

// StepNext advances the scheduler's head session by one token. It returns
// false once no session is live.
func (h *Handle) StepNext() bool { return h.sched.StepNext() }

// Cancel marks sess for termination; the scheduler drives it through the
// terminal EOS-issue path the next time it reaches the head of the list.
func (h *Handle) Cancel(sess *session.Session) { sess.Cancel() }

// DestroySession removes sess from the scheduler immediately, bypassing
// the normal step cadence, and runs its destructor.
func (h *Handle) DestroySession(sess *session.Session) {
	h.sched.Remove(sess)
	sess.Destroy()
}

func renderPrompt(kind Kind, system, user string) string {
	if kind == Chat {
		return fmt.Sprintf("[INST] <<SYS>>\n%s\n<</SYS>>\n\n%s [/INST]\n", system, user)
	}
	return fmt.Sprintf("%s\n%s\n", system, user)
}
