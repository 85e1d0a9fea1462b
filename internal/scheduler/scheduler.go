// Package scheduler implements the round-robin multi-session driver: each
// call to StepNext advances the head session by one token and rotates it
// to the tail, giving every live session strict round-robin fairness.
package scheduler

import (
	"sync"

	"github.com/tejas242/vellum/internal/forward"
	"github.com/tejas242/vellum/internal/session"
	"github.com/tejas242/vellum/internal/tokenizer"
	"github.com/tejas242/vellum/internal/workerpool"
)

// terminalEOS is the single-byte piece synthesized when a session reaches
// a terminal state, distinct from any real token's decoded bytes.
var terminalEOS = []byte{0}

// Scheduler owns the live session list and the worker pool they share.
// All exported methods are safe to call from one goroutine at a time;
// StepNext is not safe to call concurrently with itself.
type Scheduler struct {
	pool *workerpool.Pool

	mu       sync.Mutex
	sessions []*session.Session
}

// New builds a Scheduler driving sessions through pool.
func New(pool *workerpool.Pool) *Scheduler {
	return &Scheduler{pool: pool}
}

// Add registers sess at the tail of the round-robin list.
func (s *Scheduler) Add(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

// Remove drops sess from the list without stepping it, used for explicit
// cancellation outside the normal step cadence.
func (s *Scheduler) Remove(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sess)
}

func (s *Scheduler) removeLocked(sess *session.Session) bool {
	for i, x := range s.sessions {
		if x == sess {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of live sessions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StepNext processes the head session for one token and, unless it
// reached a terminal state, rotates it to the tail. It returns false when
// there are no live sessions to step.
func (s *Scheduler) StepNext() bool {
	s.mu.Lock()
	if len(s.sessions) == 0 {
		s.mu.Unlock()
		return false
	}
	sess := s.sessions[0]
	s.mu.Unlock()

	terminal := s.stepOne(sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(sess) && !terminal {
		s.sessions = append(s.sessions, sess)
	}
	return true
}

// stepOne runs one forward step for sess, applies the prompt/generate
// state machine, delivers the resulting piece through sess's callback
// (filtering unprintable single-byte pieces), and reports whether sess
// reached a terminal state.
func (s *Scheduler) stepOne(sess *session.Session) bool {
	if sess.Cancelled() {
		s.terminate(sess)
		return true
	}

	isPrompt := sess.Pos+1 < len(sess.PromptTokens)
	next := forward.Step(s.pool, sess, isPrompt)

	prevToken := sess.Token
	var emitted int
	if isPrompt {
		emitted = sess.PromptTokens[sess.Pos+1]
	} else {
		emitted = next
	}
	sess.Pos++

	if !isPrompt {
		piece := sess.Model.Vocab.Decode(prevToken, emitted)
		if shouldDeliver(piece) {
			sess.Emit(piece)
		}
	}
	sess.Token = emitted

	terminalNow := sess.Pos >= sess.Limit ||
		emitted == tokenizer.BOS ||
		(!isPrompt && emitted == tokenizer.EOS && sess.Pos > 5) ||
		sess.Cancelled()

	if isPrompt && len(sess.PromptTokens) > 1 && sess.Pos+1 >= len(sess.PromptTokens) {
		sess.State = session.Generating
	}

	if terminalNow {
		sess.State = session.Terminal
		s.terminate(sess)
		return true
	}
	return false
}

func (s *Scheduler) terminate(sess *session.Session) {
	sess.State = session.Terminal
	sess.Emit(terminalEOS)
	sess.Destroy()
}

// shouldDeliver suppresses single-byte pieces that are neither printable
// ASCII nor whitespace; multi-byte pieces always pass through.
func shouldDeliver(piece []byte) bool {
	if len(piece) != 1 {
		return true
	}
	b := piece[0]
	if b >= 0x20 && b < 0x7f {
		return true
	}
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
