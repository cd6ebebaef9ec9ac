package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beingfastian/apd-listener-tool/internal/protocol"
	"github.com/beingfastian/apd-listener-tool/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins
		return true
	},
}

// wsWriter serializes writes to one websocket connection. The read loop and
// the session driver share it.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWriter) sendEvent(event any) error {
	data, err := protocol.Encode(event)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleLive implements GET /live: upgrades the connection and pumps frames
// into a live session until the session closes or the client disconnects
func (h *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	writer := &wsWriter{conn: conn}

	driver, err := h.sessionMgr.CreateSession(func(event any) {
		if err := writer.sendEvent(event); err != nil {
			h.logger.Warn("failed to send event", "error", err)
		}
	})
	if err != nil {
		h.logger.Warn("rejected live session", "error", err)
		writer.sendEvent(protocol.NewErrorEvent("too many active sessions"))
		return
	}
	defer h.sessionMgr.RemoveSession(driver.ID())

	// A session closed by the manager (idle reap, shutdown) must also drop
	// the connection so the read loop below unblocks
	driver.SetOnClose(func() { conn.Close() })

	h.logger.Info("live connection opened",
		"session_id", driver.ID(),
		"remote", r.RemoteAddr)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("live connection error", "session_id", driver.ID(), "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := driver.HandleAudio(r.Context(), data); err != nil {
				if errors.Is(err, session.ErrClosed) {
					return
				}
				h.logger.Warn("failed to handle audio frame",
					"session_id", driver.ID(), "error", err)
			}

		case websocket.TextMessage:
			control, err := protocol.ParseControl(data)
			if err != nil {
				writer.sendEvent(protocol.NewErrorEvent(err.Error()))
				continue
			}

			if err := driver.HandleControl(r.Context(), control); err != nil {
				if errors.Is(err, session.ErrClosed) {
					return
				}
				// Protocol errors were already reported as events;
				// finalization failures end the session
				if !errors.Is(err, session.ErrProtocol) {
					return
				}
			}

			if driver.State() == session.StateClosed {
				return
			}
		}
	}
}
