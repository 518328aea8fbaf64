package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/dose"
	"github.com/gmsas95/careclock-cli/internal/metrics"
)

// WSMessage is pushed to dashboard clients
type WSMessage struct {
	Type   string           `json:"type"`
	Groups []dose.GroupView `json:"groups,omitempty"`
	Stale  bool             `json:"stale,omitempty"`
	Error  string           `json:"error,omitempty"`
	At     time.Time        `json:"at"`
}

const clientBuffer = 8

type client struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// push drops the message when the client is not keeping up
func (c *client) push(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	metrics *metrics.Metrics
}

func newHub(m *metrics.Metrics) *hub {
	return &hub{clients: make(map[*client]struct{}), metrics: m}
}

func (h *hub) add() *client {
	c := &client{send: make(chan []byte, clientBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncrementWebsocketClients()
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
	if ok {
		h.metrics.DecrementWebsocketClients()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast returns the number of clients that accepted the update
func (h *hub) broadcast(groups []dose.GroupView) int {
	data, err := json.Marshal(WSMessage{Type: "doses", Groups: groups, At: time.Now()})
	if err != nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.clients {
		if c.push(data) {
			sent++
		}
	}
	return sent
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.stop()
	}
}

func (s *Server) handleWebSocket(conn *websocket.Conn) {
	cl := s.hub.add()
	defer s.hub.remove(cl)
	defer conn.Close()

	go func() {
		defer cl.stop()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.TrimSpace(string(msg)) == "refresh" {
				s.pushLatest(cl)
			}
		}
	}()

	s.pushLatest(cl)

	for {
		select {
		case <-cl.done:
			return
		case msg := <-cl.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) pushLatest(cl *client) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	msg := WSMessage{Type: "doses", At: s.now()}
	doses, stale, err := s.loadDoses(ctx)
	if err != nil {
		msg.Type = "error"
		msg.Error = errorMessage(err)
	} else {
		msg.Groups = s.classify(doses)
		msg.Stale = stale
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	cl.push(data)
}
