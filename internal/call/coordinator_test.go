package call

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestCoordinator(ringTimeout time.Duration, onTimeout func(caller, callee string)) *Coordinator {
	return NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)), ringTimeout, onTimeout)
}

func TestStartAnswerEnd(t *testing.T) {
	c := newTestCoordinator(0, nil)

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Forwardable("alice", "bob") || !c.Forwardable("bob", "alice") {
		t.Fatalf("expected ringing session to be forwardable in both directions")
	}
	if err := c.Answer("bob", "alice"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := c.End("alice", "bob"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if c.Forwardable("alice", "bob") {
		t.Fatalf("ended session must not be forwardable")
	}
}

func TestStartBusy(t *testing.T) {
	c := newTestCoordinator(0, nil)

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, pair := range [][2]string{
		{"carol", "alice"}, // callee busy
		{"bob", "carol"},   // caller busy
		{"bob", "alice"},   // same pair, reversed
	} {
		if err := c.Start(pair[0], pair[1]); !errors.Is(err, ErrBusy) {
			t.Fatalf("Start(%q, %q) = %v, want ErrBusy", pair[0], pair[1], err)
		}
	}

	// Uninvolved identities are unaffected.
	if err := c.Start("carol", "dave"); err != nil {
		t.Fatalf("Start unrelated pair: %v", err)
	}
}

func TestStartSelfCall(t *testing.T) {
	c := newTestCoordinator(0, nil)
	if err := c.Start("alice", "alice"); !errors.Is(err, ErrBusy) {
		t.Fatalf("self-call = %v, want ErrBusy", err)
	}
}

func TestAnswerRequiresRingingCallee(t *testing.T) {
	c := newTestCoordinator(0, nil)

	if err := c.Answer("bob", "alice"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Answer without session = %v, want ErrNoSession", err)
	}

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The caller cannot answer their own call.
	if err := c.Answer("alice", "bob"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Answer by caller = %v, want ErrInvalidTransition", err)
	}
	if err := c.Answer("bob", "alice"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	// Answering twice is a stale event.
	if err := c.Answer("bob", "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Answer = %v, want ErrInvalidTransition", err)
	}
}

func TestRejectOnlyWhileRinging(t *testing.T) {
	c := newTestCoordinator(0, nil)

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Reject("alice", "bob"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Reject by caller = %v, want ErrInvalidTransition", err)
	}
	if err := c.Reject("bob", "alice"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	// Rejection frees both identities.
	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start after reject: %v", err)
	}
	if err := c.Answer("bob", "alice"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := c.Reject("bob", "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Reject of active call = %v, want ErrInvalidTransition", err)
	}
}

func TestEndEitherPartyAnyState(t *testing.T) {
	c := newTestCoordinator(0, nil)

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Callee may end a still-ringing call.
	if err := c.End("bob", "alice"); err != nil {
		t.Fatalf("End while ringing: %v", err)
	}
	if err := c.End("bob", "alice"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("second End = %v, want ErrNoSession", err)
	}
}

func TestDisconnectReturnsPeer(t *testing.T) {
	c := newTestCoordinator(0, nil)

	if _, ok := c.Disconnect("alice"); ok {
		t.Fatalf("Disconnect without session reported a peer")
	}

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	peer, ok := c.Disconnect("alice")
	if !ok || peer != "bob" {
		t.Fatalf("Disconnect(alice) = (%q, %v), want (bob, true)", peer, ok)
	}
	// Both identities are free again.
	if err := c.Start("bob", "carol"); err != nil {
		t.Fatalf("Start after disconnect: %v", err)
	}
	peer, ok = c.Disconnect("carol")
	if !ok || peer != "bob" {
		t.Fatalf("Disconnect(carol) = (%q, %v), want (bob, true)", peer, ok)
	}
}

func TestRingTimeoutExpiresUnansweredCall(t *testing.T) {
	type pair struct{ caller, callee string }
	fired := make(chan pair, 1)

	c := newTestCoordinator(20*time.Millisecond, func(caller, callee string) {
		fired <- pair{caller, callee}
	})

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case got := <-fired:
		if got.caller != "alice" || got.callee != "bob" {
			t.Fatalf("timeout fired for %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ring timeout never fired")
	}

	// The expired session no longer blocks either party.
	if err := c.Start("bob", "alice"); err != nil {
		t.Fatalf("Start after timeout: %v", err)
	}
}

func TestRingTimeoutCancelledByAnswer(t *testing.T) {
	fired := make(chan struct{}, 1)
	c := newTestCoordinator(20*time.Millisecond, func(string, string) {
		fired <- struct{}{}
	})

	if err := c.Start("alice", "bob"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Answer("bob", "alice"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	select {
	case <-fired:
		t.Fatalf("ring timeout fired after answer")
	case <-time.After(100 * time.Millisecond):
	}
	if !c.Forwardable("alice", "bob") {
		t.Fatalf("answered call was torn down")
	}
}
