package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"futurescore/internal/events"
	"futurescore/internal/runner"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocketBroadcast streams the §6 bot-status JSON shape for one bot id,
// filtering the shared bot-status topic down to the requested bot.
func (s *Server) websocketBroadcast(c *gin.Context) {
	botID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(events.EventBotStatus, 32)
	defer unsub()

	for msg := range stream {
		b, ok := msg.(runner.Broadcast)
		if !ok || b.BotID != botID {
			continue
		}
		if err := conn.WriteJSON(b); err != nil {
			return
		}
	}
}
