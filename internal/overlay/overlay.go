// Package overlay serves the browser stream overlay a live feed of skill
// progress snapshots, dispatch outcomes, and team bulletin rows over a
// websocket. Progress snapshots never surface to the language model; this
// package is the one consumer of bus.TopicSkillProgress outside tests.
package overlay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
)

const writeTimeout = 5 * time.Second

// Frame is one overlay message: the originating bus topic plus its payload.
type Frame struct {
	Topic   string    `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// BulletinRow is the overlay's rendering of one bulletin entry, sent on
// connect and again whenever the board changes.
type BulletinRow struct {
	Agent   string `json:"agent"`
	Action  string `json:"action"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	Thought string `json:"thought"`
	Health  int    `json:"health"`
	Food    int    `json:"food"`
	Stale   bool   `json:"stale"`
}

// Server upgrades overlay connections and fans bus events out to them.
type Server struct {
	bus    *bus.Bus
	board  *bulletin.Board
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer returns a Server streaming from eventBus and board. board may be
// nil, in which case no initial bulletin snapshot is sent.
func NewServer(eventBus *bus.Bus, board *bulletin.Board, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bus: eventBus, board: board, logger: logger, conns: make(map[*websocket.Conn]struct{})}
}

// ClientCount reports the number of connected overlay clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) add(c *websocket.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) remove(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// ServeHTTP upgrades the request and streams frames until the client goes
// away or the request context is cancelled. Each connection holds its own
// bus subscription, so a slow overlay never backpressures an agent: the bus
// drops events for full subscribers rather than blocking publishers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.add(conn)
	defer func() {
		s.remove(conn)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	// The overlay is write-only; CloseRead gives us a context that cancels
	// the moment the client goes away.
	ctx := conn.CloseRead(r.Context())

	if s.board != nil {
		rows := s.snapshotRows()
		if err := s.write(ctx, conn, Frame{Topic: "overlay.bulletin.snapshot", At: time.Now(), Payload: rows}); err != nil {
			return
		}
	}

	sub := s.bus.Subscribe("agent.")
	defer s.bus.Unsubscribe(sub)
	var bulletinCh <-chan bus.Event
	if s.board != nil {
		bsub := s.bus.Subscribe("bulletin.")
		defer s.bus.Unsubscribe(bsub)
		bulletinCh = bsub.Ch()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := s.write(ctx, conn, Frame{Topic: ev.Topic, At: time.Now(), Payload: ev.Payload}); err != nil {
				return
			}
		case _, ok := <-bulletinCh:
			if !ok {
				return
			}
			// Bulletin updates carry only the changed agent; the overlay
			// wants the whole board so stale rows dim correctly.
			if err := s.write(ctx, conn, Frame{Topic: "overlay.bulletin.snapshot", At: time.Now(), Payload: s.snapshotRows()}); err != nil {
				return
			}
		}
	}
}

func (s *Server) snapshotRows() []BulletinRow {
	now := time.Now()
	entries := s.board.Snapshot()
	rows := make([]BulletinRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, BulletinRow{
			Agent: e.Agent, Action: e.Action, X: e.X, Y: e.Y, Z: e.Z,
			Thought: e.Thought, Health: e.Health, Food: e.Food, Stale: e.Stale(now),
		})
	}
	return rows
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}
