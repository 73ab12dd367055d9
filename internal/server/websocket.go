package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// filterMessage is what a client sends to re-scope its subscription
// without reconnecting.
type filterMessage struct {
	Type    string `json:"type"`
	Project string `json:"project"`
	Feature string `json:"feature"`
}

// pushMessage wraps an event pushed to a subscriber.
type pushMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleWebSocket upgrades to WebSocket and streams matching events to
// the client as they are appended.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(c.Query("project"), c.Query("feature"))
	defer s.hub.Unsubscribe(sub)

	// Read pump — handle filter updates and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg filterMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "filter" {
				sub.SetFilter(msg.Project, msg.Feature)
			}
		}
	}()

	// Write pump — push events as they arrive.
	for {
		select {
		case <-done:
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(pushMessage{Type: "log", Data: e}); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
