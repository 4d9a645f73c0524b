package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/switchboard/internal/orchestrator"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = 16 << 10
)

// wsPongWait is how long a connection may stay silent while the server
// is waiting to read. Pings go out at nine tenths of it.
var wsPongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// InboundFrame is a chat message sent over the websocket.
type InboundFrame struct {
	Message string `json:"message"`
}

// OutboundFrame is the reply to one inbound frame.
type OutboundFrame struct {
	Type  string                 `json:"type"` // "response" or "error"
	Reply *orchestrator.Response `json:"reply,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleChatWebsocket bridges a chat channel onto the pipeline. Each
// {"message": "..."} frame is processed in order for the user named by
// the user_key query parameter or header.
// GET /v1/chat/ws?user_key=user_leo
func (s *Server) handleChatWebsocket(w http.ResponseWriter, r *http.Request) {
	userKey := r.URL.Query().Get("user_key")
	if userKey == "" {
		userKey = r.Header.Get(UserKeyHeader)
	}
	if userKey == "" {
		s.errorResponse(w, http.StatusUnauthorized, "user_key is required")
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	pongWait := wsPongWait
	extend := func() error { return raw.SetReadDeadline(time.Now().Add(pongWait)) }

	raw.SetReadLimit(wsReadLimit)
	extend()
	raw.SetPongHandler(func(string) error { return extend() })

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	logger := s.logger.With("user_key", userKey, "transport", "websocket")
	logger.Info("websocket connected")

	for {
		var frame InboundFrame
		if err := raw.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			logger.Info("websocket disconnected")
			return
		}
		extend()

		if err := validateMessage(frame.Message); err != nil {
			if werr := conn.write(OutboundFrame{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		resp, err := s.deps.Chat.ProcessMessage(r.Context(), frame.Message, userKey)
		// Pongs that arrived while the pipeline ran are only seen by the
		// next read.
		extend()
		if errors.Is(err, orchestrator.ErrUserNotFound) {
			conn.write(OutboundFrame{Type: "error", Error: "user not found"})
			conn.mu.Lock()
			raw.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user not found"),
				time.Now().Add(wsWriteWait))
			conn.mu.Unlock()
			return
		}
		if err != nil {
			logger.Error("chat failed", "error", err)
			if werr := conn.write(OutboundFrame{Type: "error", Error: "failed to process message"}); werr != nil {
				return
			}
			continue
		}
		if err := conn.write(OutboundFrame{Type: "response", Reply: resp}); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}
