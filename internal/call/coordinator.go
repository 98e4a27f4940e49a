// Package call tracks the lifecycle of each call attempt between two
// identities.
//
// A session is keyed by the unordered pair of participants and moves through
// a closed set of states: Ringing (offer delivered, waiting on the callee),
// Active (answer delivered), Ended (terminal; the session is removed from the
// table). Invalid transitions are rejected with typed errors instead of being
// silently absorbed, so the dispatch layer can decide to no-op a stale event
// without ever corrupting another session.
package call

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateRinging State = "ringing"
	StateActive  State = "active"
)

var (
	// ErrBusy rejects a call attempt while either participant is already in
	// a non-terminal session.
	ErrBusy = errors.New("call: participant is busy")
	// ErrNoSession rejects an event referencing a pair with no session. The
	// caller treats this as a stale event, never as a fault.
	ErrNoSession = errors.New("call: no session for pair")
	// ErrInvalidTransition rejects an event the current state does not allow.
	ErrInvalidTransition = errors.New("call: invalid transition")
)

// pairKey is the unordered participant pair, normalized so (a,b) and (b,a)
// address the same session.
type pairKey struct {
	lo, hi string
}

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Session is one call attempt. Fields are fixed at creation except State.
type Session struct {
	Caller    string
	Callee    string
	State     State
	CreatedAt time.Time

	ringTimer *time.Timer
}

// Coordinator owns the session table. All mutations are serialized behind
// one mutex; the spec's single-threaded dispatcher assumption is replaced
// with explicit synchronization rather than dropped.
type Coordinator struct {
	log         *slog.Logger
	ringTimeout time.Duration

	// onRingTimeout fires outside the table lock after an unanswered
	// Ringing session has been removed.
	onRingTimeout func(caller, callee string)

	mu         sync.Mutex
	sessions   map[pairKey]*Session
	byIdentity map[string]pairKey
}

func NewCoordinator(log *slog.Logger, ringTimeout time.Duration, onRingTimeout func(caller, callee string)) *Coordinator {
	return &Coordinator{
		log:           log,
		ringTimeout:   ringTimeout,
		onRingTimeout: onRingTimeout,
		sessions:      make(map[pairKey]*Session),
		byIdentity:    make(map[string]pairKey),
	}
}

// Start creates a Ringing session for (caller, callee). It fails with ErrBusy
// when either identity is already part of a non-terminal session, which also
// enforces "at most one non-terminal session per pair".
func (c *Coordinator) Start(caller, callee string) error {
	if caller == callee {
		// A self-call can never complete a handshake; treat it as busy.
		return ErrBusy
	}

	key := keyFor(caller, callee)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.byIdentity[caller]; busy {
		return ErrBusy
	}
	if _, busy := c.byIdentity[callee]; busy {
		return ErrBusy
	}

	s := &Session{
		Caller:    caller,
		Callee:    callee,
		State:     StateRinging,
		CreatedAt: time.Now(),
	}
	if c.ringTimeout > 0 {
		s.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.expire(key) })
	}
	c.sessions[key] = s
	c.byIdentity[caller] = key
	c.byIdentity[callee] = key

	c.log.Info("call ringing", "caller", caller, "callee", callee)
	return nil
}

// Answer moves the pair's session from Ringing to Active. Only the callee may
// answer.
func (c *Coordinator) Answer(callee, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[keyFor(callee, caller)]
	if !ok {
		return ErrNoSession
	}
	if s.State != StateRinging || s.Callee != callee {
		return ErrInvalidTransition
	}

	s.State = StateActive
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	c.log.Info("call answered", "caller", s.Caller, "callee", s.Callee)
	return nil
}

// Reject terminates a Ringing session. Only the callee may reject.
func (c *Coordinator) Reject(callee, caller string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(callee, caller)
	s, ok := c.sessions[key]
	if !ok {
		return ErrNoSession
	}
	if s.State != StateRinging || s.Callee != callee {
		return ErrInvalidTransition
	}

	c.removeLocked(key, s)
	c.log.Info("call rejected", "caller", s.Caller, "callee", s.Callee)
	return nil
}

// End terminates the session between from and peer. Either party may end a
// Ringing or Active session.
func (c *Coordinator) End(from, peer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(from, peer)
	s, ok := c.sessions[key]
	if !ok {
		return ErrNoSession
	}

	c.removeLocked(key, s)
	c.log.Info("call ended", "caller", s.Caller, "callee", s.Callee,
		"state", s.State, "duration", time.Since(s.CreatedAt))
	return nil
}

// Forwardable reports whether an ICE candidate from -> to may be relayed:
// true only while the pair's session is Ringing or Active.
func (c *Coordinator) Forwardable(from, to string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[keyFor(from, to)]
	return ok
}

// Disconnect removes the non-terminal session the identity participates in,
// if any, and returns the remaining peer so the caller can notify them.
// Cleanup is scoped to this identity's session only.
func (c *Coordinator) Disconnect(identity string) (peer string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.byIdentity[identity]
	if !ok {
		return "", false
	}
	s := c.sessions[key]
	c.removeLocked(key, s)

	peer = s.Caller
	if peer == identity {
		peer = s.Callee
	}
	c.log.Info("call ended by disconnect", "identity", identity, "peer", peer, "state", s.State)
	return peer, true
}

// expire fires from the ring timer. The state check guards the race where an
// answer or teardown wins the table lock first.
func (c *Coordinator) expire(key pairKey) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok || s.State != StateRinging {
		c.mu.Unlock()
		return
	}
	c.removeLocked(key, s)
	c.mu.Unlock()

	c.log.Info("call timed out", "caller", s.Caller, "callee", s.Callee)
	if c.onRingTimeout != nil {
		c.onRingTimeout(s.Caller, s.Callee)
	}
}

func (c *Coordinator) removeLocked(key pairKey, s *Session) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	delete(c.sessions, key)
	delete(c.byIdentity, s.Caller)
	delete(c.byIdentity, s.Callee)
}
