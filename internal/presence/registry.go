// Package presence is the directory of currently reachable identities.
//
// The registry maps user-chosen identities to live connections and back. It
// references connections, it never owns them: closing and reaping a
// connection is the signaling layer's job.
package presence

import (
	"log/slog"
	"sync"

	"github.com/lumenchat/switchboard/internal/wire"
)

// Client is a live connection as seen by the directory. Send must not block;
// it reports false when the connection is already gone.
type Client interface {
	ConnID() string
	Send(ev wire.ServerEvent) bool
}

// Registry holds exactly one live binding per identity. Registration is
// last-wins: a new connection claiming an existing identity silently takes it
// over, and a connection registering a second identity gives up its first.
// Both rules together keep the identity<->connection mapping one-to-one,
// which RemoveClient relies on.
type Registry struct {
	log      *slog.Logger
	notifier *Notifier

	mu      sync.Mutex
	clients map[Client]struct{}
	byName  map[string]Client
	names   map[Client]string
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		clients: make(map[Client]struct{}),
		byName:  make(map[string]Client),
		names:   make(map[Client]string),
	}
}

// SetNotifier wires the presence notifier. Must be called before the first
// connection is attached.
func (r *Registry) SetNotifier(n *Notifier) { r.notifier = n }

// Attach adds a live connection that has not registered an identity yet.
// Unregistered connections still receive presence broadcasts.
func (r *Registry) Attach(c Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// Detach removes a connection and, if it had registered, its identity
// binding. Returns the identity that was released.
func (r *Registry) Detach(c Client) (identity string, hadIdentity bool) {
	r.mu.Lock()
	delete(r.clients, c)
	identity, hadIdentity = r.names[c]
	if hadIdentity {
		delete(r.names, c)
		delete(r.byName, identity)
	}
	r.mu.Unlock()

	if hadIdentity {
		r.log.Info("identity unregistered", "identity", identity, "conn_id", c.ConnID())
		r.notifyChanged()
	}
	return identity, hadIdentity
}

// Register binds identity to c, unconditionally overwriting any prior
// binding for the identity. The displaced connection is not closed; it simply
// no longer owns an identity.
func (r *Registry) Register(identity string, c Client) {
	r.mu.Lock()
	if prevName, ok := r.names[c]; ok && prevName != identity {
		delete(r.byName, prevName)
	}
	if prev, ok := r.byName[identity]; ok && prev != c {
		delete(r.names, prev)
	}
	r.byName[identity] = c
	r.names[c] = identity
	r.mu.Unlock()

	r.log.Info("identity registered", "identity", identity, "conn_id", c.ConnID())
	r.notifyChanged()
}

// Lookup resolves an identity to its connection.
func (r *Registry) Lookup(identity string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byName[identity]
	return c, ok
}

// IdentityOf reports the identity a connection registered, if any.
func (r *Registry) IdentityOf(c Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[c]
	return name, ok
}

// Identities returns a snapshot of all registered identities. Order is
// unspecified.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identitiesLocked()
}

func (r *Registry) identitiesLocked() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// snapshot returns the identity list and every live connection in one
// critical section, so a presence broadcast reflects a single registry state.
func (r *Registry) snapshot() (identities []string, clients []Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identities = r.identitiesLocked()
	clients = make([]Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return identities, clients
}

func (r *Registry) notifyChanged() {
	if r.notifier != nil {
		r.notifier.PresenceChanged()
	}
}
