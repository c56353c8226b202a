package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// serveWS streams the status document: once on connect and again after every
// dashboard change. Client messages are read and discarded.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := s.state.Subscribe()
	defer cancel()

	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("Websocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingPeriod)
	defer ping.Stop()

	if err := s.push(conn); err != nil {
		logger.Debug().Err(err).Msg("Websocket write failed")
		return
	}
	for {
		select {
		case <-closed:
			logger.Debug().Msg("Websocket client disconnected")
			return
		case _, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(s.writeWait))
				return
			}
			if err := s.push(conn); err != nil {
				logger.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	msg, err := json.Marshal(s.statusDocument())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
