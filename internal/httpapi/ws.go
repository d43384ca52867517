package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 5 * time.Second

// handleTickerWS pushes the latest ticker of a symbol whenever it changes, checking every push
// interval. The client only needs to read.
func (s *Server) handleTickerWS(c *gin.Context) {
	symbol := c.Param("symbol")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()
	s.logger.Debug("websocket client connected", zap.String("symbol", symbol))

	// drain client frames so close and ping control messages get processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	var lastSent int64 = -1
	for {
		if t, ok := s.svc.TickerData(symbol); ok && t.Timestamp != lastSent {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug("websocket deadline failed", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			if err := conn.WriteJSON(t); err != nil {
				s.logger.Debug("websocket write failed", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			lastSent = t.Timestamp
		}

		select {
		case <-ctx.Done():
			err := conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			if err != nil {
				s.logger.Debug("websocket close frame not sent", zap.String("symbol", symbol), zap.Error(err))
			}
			return
		case <-gone:
			s.logger.Debug("websocket client disconnected", zap.String("symbol", symbol))
			return
		case <-ticker.C:
		}
	}
}
