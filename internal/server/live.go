package server

import (
	"net/http"
	"time"

	"github.com/go-mizu/mizu"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is same-deployment tooling; the API carries no cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLive streams the batch status document over a websocket every two
// seconds until the client goes away or the batch reaches a terminal state.
func (s *Server) handleLive(c *mizu.Ctx) error {
	conn, err := upgrader.Upgrade(c.Writer(), c.Request(), nil)
	if err != nil {
		return nil // Upgrade already wrote the error response
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	// Reader loop to notice client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		b := s.app.ActiveBatch()
		if b == nil {
			if err := conn.WriteJSON(map[string]any{"error": "no batch"}); err != nil {
				return nil
			}
		} else {
			doc := b.StatusDoc()
			if err := conn.WriteJSON(doc); err != nil {
				return nil
			}
			if doc.Status != "running" && doc.Status != "pending" {
				log.Debug().Str("batch_id", doc.BatchID).Msg("Live stream ending with batch")
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-closed:
			return nil
		case <-c.Context().Done():
			return nil
		}
	}
}
