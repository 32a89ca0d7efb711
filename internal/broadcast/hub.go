// Package broadcast fans pulse notifications and coarse session
// snapshots out to passive WebSocket observers (the portal's coin modal,
// dashboards).  Fan-out only: nothing here is a control path, and a
// slow observer is disconnected rather than allowed to backpressure the
// engine.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// Message is the envelope every broadcast frame uses.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub tracks connected observers and broadcasts frames to all of them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	log     zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		log:     logger,
	}
}

// Handle upgrades the request and serves the observer until it leaves.
func (h *Hub) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	cl := &client{ws: ws, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("observers", n).Msg("broadcast observer connected")

	go h.writeLoop(cl)
	h.readLoop(cl)
	return nil
}

// readLoop drains inbound frames; observers are passive, so everything
// they send is discarded.  Its return means the connection is gone.
func (h *Hub) readLoop(cl *client) {
	defer h.drop(cl)
	for {
		if _, _, err := cl.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	for payload := range cl.send {
		_ = cl.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(cl)
			return
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	_, ok := h.clients[cl]
	if ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
	if ok {
		_ = cl.ws.Close()
	}
}

// broadcast sends the frame to every observer; observers whose buffers
// are full are dropped so the engine never blocks on a stalled socket.
func (h *Hub) broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	var stalled []*client
	for cl := range h.clients {
		select {
		case cl.send <- payload:
		default:
			stalled = append(stalled, cl)
		}
	}
	h.mu.Unlock()
	for _, cl := range stalled {
		h.log.Debug().Msg("dropping stalled broadcast observer")
		h.drop(cl)
	}
}

// BroadcastPulse notifies observers of an accepted coin pulse, in both
// the per-device form and the legacy single-slot form the portal's coin
// modal listens for.
func (h *Hub) BroadcastPulse(ev model.PulseEvent) {
	h.broadcast(Message{Event: "coin-pulse", Data: map[string]any{
		"slot":  ev.SlotID,
		"pesos": ev.Pesos(),
	}})
	if ev.SlotID != "main" {
		h.broadcast(Message{Event: "nodemcu-pulse", Data: map[string]any{
			"macAddress":   ev.SlotID,
			"denomination": ev.Denomination,
			"count":        ev.Count,
		}})
	}
}

// BroadcastSessions pushes a coarse session-list snapshot to dashboards.
func (h *Hub) BroadcastSessions(sessions []model.Session) {
	type row struct {
		MAC              string `json:"mac"`
		RemainingSeconds int    `json:"remainingSeconds"`
		TotalPaid        int    `json:"totalPaid"`
		IsPaused         bool   `json:"isPaused"`
	}
	rows := make([]row, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, row{MAC: s.MAC, RemainingSeconds: s.RemainingSeconds, TotalPaid: s.TotalPaid, IsPaused: s.IsPaused})
	}
	h.broadcast(Message{Event: "sessions", Data: rows})
}

// Observers reports the current observer count.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
