// Package signaling is the WebSocket surface of the relay: it upgrades
// client connections, decodes inbound events, and dispatches them to the
// presence registry, message router, and call coordinator.
//
// Each connection gets one reader goroutine; events from the same connection
// are handled to completion in arrival order, which preserves per-sender
// delivery order end to end. Cross-connection ordering is not guaranteed.
package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenchat/switchboard/internal/call"
	"github.com/lumenchat/switchboard/internal/config"
	"github.com/lumenchat/switchboard/internal/metrics"
	"github.com/lumenchat/switchboard/internal/origin"
	"github.com/lumenchat/switchboard/internal/presence"
	"github.com/lumenchat/switchboard/internal/ratelimit"
	"github.com/lumenchat/switchboard/internal/wire"
)

// Server handles the GET /ws signaling endpoint.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	registry *presence.Registry
	notifier *presence.Notifier
	router   *Router
	calls    *call.Coordinator

	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		peers:   make(map[*peer]struct{}),
	}

	s.registry = presence.NewRegistry(logger)
	s.notifier = presence.NewNotifier(s.registry, logger, m)
	s.router = NewRouter(s.registry, logger, m)
	s.calls = call.NewCoordinator(logger, cfg.CallRingTimeout, s.ringTimedOut)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		},
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	p := newPeer(conn, s.log, s.cfg.SendQueueSize)
	p.log.Info("client connected", "remote_addr", r.RemoteAddr)

	s.track(p)
	go p.writePump(s.cfg.SignalingWSPingInterval)
	s.registry.Attach(p)

	defer func() {
		s.disconnect(p)
		p.log.Info("client disconnected")
	}()

	idle := s.cfg.SignalingWSIdleTimeout
	resetDeadline := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})
	resetDeadline()

	perSecond := int64(s.cfg.MaxSignalingMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(nil, perSecond, perSecond)

	for {
		msgType, msgReader, err := conn.NextReader()
		if err != nil {
			if isTimeout(err) {
				writeClose(conn, websocket.ClosePolicyViolation, "idle timeout")
			}
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := readLimited(msgReader, s.cfg.MaxSignalingMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				writeClose(conn, websocket.CloseMessageTooBig, "message too large")
				return
			}
			return
		}
		resetDeadline()

		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.EventRateLimited)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.dispatch(p, msg)
	}
}

// Shutdown closes every live connection. Called after the HTTP listener has
// stopped accepting new ones.
func (s *Server) Shutdown() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (s *Server) track(p *peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
}

// dispatch decodes and handles one inbound frame. A malformed frame is
// dropped without terminating the connection; a broken client can only hurt
// itself.
func (s *Server) dispatch(p *peer, msg []byte) {
	ev, err := wire.ParseClientEvent(msg)
	if err != nil {
		s.metrics.Inc(metrics.EventMalformedMessage)
		p.log.Debug("dropping malformed message", "err", err)
		return
	}

	switch ev.Name {
	case wire.EventRegister:
		s.handleRegister(p, ev.Register)
	case wire.EventSendMessage:
		// Fire-and-forget: an unreachable target is not surfaced to the
		// sender.
		_ = s.router.Route(ev.SendMessage.From, ev.SendMessage.To, ev.SendMessage.Message)
	case wire.EventCallUser:
		s.handleCallUser(p, ev.CallUser)
	case wire.EventAnswerCall:
		s.handleAnswerCall(p, ev.AnswerCall)
	case wire.EventRejectCall:
		s.handleRejectCall(p, ev.RejectCall)
	case wire.EventICECandidate:
		s.handleICECandidate(p, ev.ICECandidate)
	case wire.EventEndCall:
		s.handleEndCall(p, ev.EndCall)
	}
}

// handleRegister binds the connection to an identity. A connection that
// renames itself abandons its old identity, and with it any call that
// identity was part of; the remaining peer is notified exactly as on
// disconnect, so no one is left ringing or locked busy against a name that
// no longer exists.
func (s *Server) handleRegister(p *peer, pl *wire.RegisterPayload) {
	if old, ok := s.registry.IdentityOf(p); ok && old != pl.Username {
		s.endCallOf(old)
	}
	s.registry.Register(pl.Username, p)
}

func (s *Server) handleCallUser(p *peer, pl *wire.CallUserPayload) {
	// The claimed caller must be the identity this connection registered;
	// otherwise any connection could lock two other users busy.
	from, ok := s.registry.IdentityOf(p)
	if !ok || from != pl.From {
		s.staleCallEvent(p, "call-user with mismatched identity", "claimed_from", pl.From)
		return
	}

	target, ok := s.registry.Lookup(pl.Target)
	if !ok {
		// No session is created and the caller is not told; matches the
		// directory's silent-drop contract for unknown targets.
		s.metrics.Inc(metrics.EventCallUnreachable)
		p.log.Info("call dropped, target offline", "from", pl.From, "target", pl.Target)
		return
	}

	if err := s.calls.Start(pl.From, pl.Target); err != nil {
		if errors.Is(err, call.ErrBusy) {
			s.metrics.Inc(metrics.EventCallBusy)
			p.Send(wire.CallBusy(pl.Target))
		}
		return
	}

	s.metrics.Inc(metrics.EventCallStarted)
	target.Send(wire.IncomingCall(pl.From, pl.Offer))
}

func (s *Server) handleAnswerCall(p *peer, pl *wire.AnswerCallPayload) {
	callee, ok := s.registry.IdentityOf(p)
	if !ok {
		s.staleCallEvent(p, "answer-call from unregistered connection")
		return
	}
	if err := s.calls.Answer(callee, pl.Target); err != nil {
		s.staleCallEvent(p, "answer-call rejected", "err", err)
		return
	}

	s.metrics.Inc(metrics.EventCallAnswered)
	if caller, ok := s.registry.Lookup(pl.Target); ok {
		caller.Send(wire.CallAnswered(pl.Answer))
	}
}

func (s *Server) handleRejectCall(p *peer, pl *wire.TargetPayload) {
	callee, ok := s.registry.IdentityOf(p)
	if !ok {
		s.staleCallEvent(p, "reject-call from unregistered connection")
		return
	}
	if err := s.calls.Reject(callee, pl.Target); err != nil {
		s.staleCallEvent(p, "reject-call rejected", "err", err)
		return
	}

	s.metrics.Inc(metrics.EventCallRejected)
	if caller, ok := s.registry.Lookup(pl.Target); ok {
		caller.Send(wire.CallRejected())
	}
}

func (s *Server) handleICECandidate(p *peer, pl *wire.ICECandidatePayload) {
	from, ok := s.registry.IdentityOf(p)
	if !ok || !s.calls.Forwardable(from, pl.Target) {
		// Candidates for a dead or never-started session are dropped; they
		// must never disturb live sessions.
		s.staleCallEvent(p, "ice-candidate without session", "target", pl.Target)
		return
	}
	if target, ok := s.registry.Lookup(pl.Target); ok {
		target.Send(wire.ForwardedCandidate(pl.Candidate))
	}
}

func (s *Server) handleEndCall(p *peer, pl *wire.TargetPayload) {
	from, ok := s.registry.IdentityOf(p)
	if !ok {
		s.staleCallEvent(p, "end-call from unregistered connection")
		return
	}
	if err := s.calls.End(from, pl.Target); err != nil {
		s.staleCallEvent(p, "end-call without session", "target", pl.Target)
		return
	}

	s.metrics.Inc(metrics.EventCallEnded)
	if target, ok := s.registry.Lookup(pl.Target); ok {
		target.Send(wire.CallEnded())
	}
}

// disconnect tears down everything the connection owned: its registry
// binding and any call it participated in. The remaining peer of a live call
// is always notified.
func (s *Server) disconnect(p *peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()

	p.close()

	identity, had := s.registry.Detach(p)
	if !had {
		return
	}
	s.endCallOf(identity)
}

// endCallOf removes the non-terminal call the identity participates in, if
// any, and tells the remaining peer it ended. Shared by disconnect and by
// re-registration under a new name.
func (s *Server) endCallOf(identity string) {
	peerIdentity, ok := s.calls.Disconnect(identity)
	if !ok {
		return
	}
	s.metrics.Inc(metrics.EventCallEnded)
	if c, ok := s.registry.Lookup(peerIdentity); ok {
		c.Send(wire.CallEnded())
	}
}

// ringTimedOut runs from the coordinator's ring timer: both parties hear
// call-ended so the caller stops waiting and the callee stops ringing.
func (s *Server) ringTimedOut(caller, callee string) {
	s.metrics.Inc(metrics.EventCallTimedOut)
	if c, ok := s.registry.Lookup(caller); ok {
		c.Send(wire.CallEnded())
	}
	if c, ok := s.registry.Lookup(callee); ok {
		c.Send(wire.CallEnded())
	}
}

func (s *Server) staleCallEvent(p *peer, reason string, args ...any) {
	s.metrics.Inc(metrics.EventStaleCallEvent)
	p.log.Debug(reason, args...)
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
