package presence

import (
	"log/slog"

	"github.com/lumenchat/switchboard/internal/metrics"
	"github.com/lumenchat/switchboard/internal/wire"
)

// Notifier broadcasts the full identity list to every live connection after a
// registry mutation, registered or not, matching the original directory's
// behavior. This is O(connections) per mutation; fine at the scale this
// directory targets, and documented as the first thing to revisit if that
// changes.
type Notifier struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	reg     *Registry
}

func NewNotifier(reg *Registry, log *slog.Logger, m *metrics.Metrics) *Notifier {
	n := &Notifier{
		log:     log,
		metrics: m,
		reg:     reg,
	}
	reg.SetNotifier(n)
	return n
}

// PresenceChanged snapshots the registry and fans the identity list out. The
// snapshot is taken under the registry lock; sends happen outside it.
func (n *Notifier) PresenceChanged() {
	identities, clients := n.reg.snapshot()
	ev := wire.UserList(identities)
	for _, c := range clients {
		if !c.Send(ev) {
			n.log.Debug("presence broadcast skipped dead connection", "conn_id", c.ConnID())
		}
	}
	n.metrics.Inc(metrics.EventPresenceBroadcast)
}
