package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// handleSyncStream pushes status snapshots until the client goes away or the
// server stops.
func (s *Server) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server is shutting down")
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Status stream upgrade failed")
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()
	defer conn.Close()

	// Drain client frames so close messages are noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	send := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.cfg.Syncer.Status()); err != nil {
			s.logger.Debug().Err(err).Msg("Status stream write failed")
			return false
		}
		return true
	}

	if !send() {
		return
	}

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
