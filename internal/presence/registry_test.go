package presence

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/lumenchat/switchboard/internal/metrics"
	"github.com/lumenchat/switchboard/internal/wire"
)

type fakeClient struct {
	id string

	mu     sync.Mutex
	events []wire.ServerEvent
}

func (f *fakeClient) ConnID() string { return f.id }

func (f *fakeClient) Send(ev wire.ServerEvent) bool {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return true
}

func (f *fakeClient) lastUserList(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Event == wire.EventUserList {
			names := append([]string(nil), f.events[i].Data.([]string)...)
			sort.Strings(names)
			return names
		}
	}
	t.Fatalf("client %s never received a userList", f.id)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(log)
	NewNotifier(r, log, metrics.New())
	return r
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegisterAndLookup(t *testing.T) {
	r := newTestRegistry(t)
	c := &fakeClient{id: "c1"}

	r.Attach(c)
	r.Register("alice", c)

	got, ok := r.Lookup("alice")
	if !ok || got != Client(c) {
		t.Fatalf("Lookup(alice) = (%v, %v), want c1", got, ok)
	}
	if name, ok := r.IdentityOf(c); !ok || name != "alice" {
		t.Fatalf("IdentityOf = (%q, %v), want alice", name, ok)
	}
	if want := []string{"alice"}; !equalStrings(c.lastUserList(t), want) {
		t.Fatalf("userList = %v, want %v", c.lastUserList(t), want)
	}
}

func TestRegisterLastWins(t *testing.T) {
	r := newTestRegistry(t)
	c1 := &fakeClient{id: "c1"}
	c2 := &fakeClient{id: "c2"}
	r.Attach(c1)
	r.Attach(c2)

	r.Register("alice", c1)
	r.Register("alice", c2)

	if got, _ := r.Lookup("alice"); got != Client(c2) {
		t.Fatalf("alice resolves to %v, want c2", got)
	}
	// The displaced connection stays attached but owns no identity.
	if _, ok := r.IdentityOf(c1); ok {
		t.Fatalf("displaced connection still owns an identity")
	}
	if want := []string{"alice"}; !equalStrings(r.Identities(), want) {
		t.Fatalf("Identities = %v, want %v", r.Identities(), want)
	}
}

func TestReRegisterReleasesOldIdentity(t *testing.T) {
	r := newTestRegistry(t)
	c := &fakeClient{id: "c1"}
	r.Attach(c)

	r.Register("alice", c)
	r.Register("alicia", c)

	if _, ok := r.Lookup("alice"); ok {
		t.Fatalf("old identity still resolvable after rename")
	}
	if got, ok := r.Lookup("alicia"); !ok || got != Client(c) {
		t.Fatalf("Lookup(alicia) = (%v, %v)", got, ok)
	}
	if want := []string{"alicia"}; !equalStrings(c.lastUserList(t), want) {
		t.Fatalf("userList = %v, want %v", c.lastUserList(t), want)
	}
}

func TestDetachReleasesIdentityAndBroadcasts(t *testing.T) {
	r := newTestRegistry(t)
	c1 := &fakeClient{id: "c1"}
	c2 := &fakeClient{id: "c2"}
	r.Attach(c1)
	r.Attach(c2)
	r.Register("alice", c1)
	r.Register("bob", c2)

	identity, had := r.Detach(c1)
	if !had || identity != "alice" {
		t.Fatalf("Detach = (%q, %v), want (alice, true)", identity, had)
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Fatalf("detached identity still resolvable")
	}
	if want := []string{"bob"}; !equalStrings(c2.lastUserList(t), want) {
		t.Fatalf("userList after detach = %v, want %v", c2.lastUserList(t), want)
	}
}

func TestDetachUnregisteredIsQuiet(t *testing.T) {
	r := newTestRegistry(t)
	c := &fakeClient{id: "c1"}
	r.Attach(c)

	if _, had := r.Detach(c); had {
		t.Fatalf("unregistered connection reported an identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) != 0 {
		t.Fatalf("detach of unregistered connection broadcast %d events", len(c.events))
	}
}

func TestBroadcastReachesUnregisteredConnections(t *testing.T) {
	r := newTestRegistry(t)
	lurker := &fakeClient{id: "lurker"}
	c := &fakeClient{id: "c1"}
	r.Attach(lurker)
	r.Attach(c)

	r.Register("alice", c)

	if want := []string{"alice"}; !equalStrings(lurker.lastUserList(t), want) {
		t.Fatalf("lurker userList = %v, want %v", lurker.lastUserList(t), want)
	}
}
