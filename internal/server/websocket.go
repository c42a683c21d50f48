package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gac1u21/harcapture/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 64 * 1024
)

// wsMessage is pushed to websocket clients
type wsMessage struct {
	Type     string             `json:"type"`
	Event    *session.Event     `json:"event,omitempty"`
	Sessions []session.Snapshot `json:"sessions,omitempty"`
	History  *string            `json:"history,omitempty"`
	Visible  *bool              `json:"visible,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// wsRequest is sent by websocket clients
type wsRequest struct {
	Action string `json:"action"`
	Mode   string `json:"mode,omitempty"`
	Label  string `json:"label,omitempty"`
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan wsMessage
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:     s.nextClientID.Add(1),
		conn:   conn,
		server: s,
		sendCh: make(chan wsMessage, 64),
		done:   make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	slog.Debug("WebSocket client connected", "client_id", c.id, "remote", r.RemoteAddr)

	c.Send(wsMessage{Type: "status", Sessions: s.service.Status()})
	go c.writePump()
	go c.readPump()
}

// broadcast fans a session event out to every client; slow clients drop events
func (s *Server) broadcast(ev session.Event) {
	msg := wsMessage{Type: "event", Event: &ev}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for _, c := range s.clients {
		c.Send(msg)
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()
	slog.Debug("WebSocket client disconnected", "client_id", c.id)
}

// Send queues a message without blocking
func (c *wsClient) Send(msg wsMessage) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		slog.Warn("Dropping websocket message, client too slow", "client_id", c.id, "type", msg.Type)
	}
}

func (c *wsClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Warn("WebSocket write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.Send(wsMessage{Type: "error", Error: "invalid message"})
		return
	}

	svc := c.server.service
	var err error
	switch req.Action {
	case "trigger":
		var mode session.Mode
		mode, err = session.ParseMode(req.Mode)
		if err == nil {
			err = svc.Trigger(mode)
		}
	case "label":
		err = svc.SubmitLabel(req.Label)
	case "cancel_label":
		err = svc.CancelLabel()
	case "status":
		c.Send(wsMessage{Type: "status", Sessions: svc.Status()})
		return
	case "toggle_history":
		visible, text, terr := svc.ToggleHistory(context.Background())
		if terr != nil {
			err = terr
			break
		}
		c.Send(wsMessage{Type: "history", Visible: &visible, History: &text})
		return
	default:
		c.Send(wsMessage{Type: "error", Error: "unknown action '" + req.Action + "'"})
		return
	}

	if err != nil {
		slog.Debug("WebSocket action failed", "client_id", c.id, "action", req.Action, "error", err)
		c.Send(wsMessage{Type: "error", Error: err.Error()})
	}
}
