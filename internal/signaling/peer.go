package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumenchat/switchboard/internal/wire"
)

const writeWait = 1 * time.Second

// peer wraps one client connection. All outbound traffic goes through a
// bounded queue drained by a single write pump, so the registry and
// coordinator never touch the websocket directly and never block on a slow
// client.
type peer struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	send chan wire.ServerEvent

	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(conn *websocket.Conn, log *slog.Logger, queueSize int) *peer {
	id := uuid.NewString()
	return &peer{
		id:   id,
		conn: conn,
		log:  log.With("conn_id", id),
		send: make(chan wire.ServerEvent, queueSize),
		done: make(chan struct{}),
	}
}

func (p *peer) ConnID() string { return p.id }

// Send enqueues an event without blocking. A full queue means the client is
// not draining; the connection is dropped so one stuck client cannot back up
// the dispatcher.
func (p *peer) Send(ev wire.ServerEvent) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- ev:
		return true
	case <-p.done:
		return false
	default:
		p.log.Warn("outbound queue full, dropping connection")
		p.close()
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// writePump serializes all writes to the connection and owns the keepalive
// pings. It exits when the peer is closed.
func (p *peer) writePump(pingInterval time.Duration) {
	var ticker *time.Ticker
	var pings <-chan time.Time
	if pingInterval > 0 {
		ticker = time.NewTicker(pingInterval)
		pings = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case ev := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(ev); err != nil {
				p.log.Debug("write failed", "err", err)
				p.close()
				return
			}
		case <-pings:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}
