package signaling

import (
	"errors"
	"log/slog"

	"github.com/lumenchat/switchboard/internal/metrics"
	"github.com/lumenchat/switchboard/internal/presence"
	"github.com/lumenchat/switchboard/internal/wire"
)

// ErrUnreachable means the target identity has no live connection. Routing
// is fire-and-forget: the sender is never told, but the error is explicit
// internally so a delivery acknowledgment can be added later without
// restructuring.
var ErrUnreachable = errors.New("signaling: target not reachable")

// Router forwards chat messages between identities.
type Router struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *presence.Registry
}

func NewRouter(registry *presence.Registry, log *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		log:      log,
		metrics:  m,
		registry: registry,
	}
}

// Route delivers a receiveMessage event to the target identity's connection.
// An unreachable target is logged and counted, nothing more.
func (r *Router) Route(from, to, message string) error {
	target, ok := r.registry.Lookup(to)
	if !ok {
		r.metrics.Inc(metrics.EventMessageUnreachable)
		r.log.Info("message dropped, target offline", "from", from, "to", to)
		return ErrUnreachable
	}

	if !target.Send(wire.ReceiveMessage(from, message)) {
		r.metrics.Inc(metrics.EventMessageUnreachable)
		return ErrUnreachable
	}
	r.metrics.Inc(metrics.EventMessageRouted)
	return nil
}
