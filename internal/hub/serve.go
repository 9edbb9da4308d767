package hub

import (
	"context"
	"net/http"

	"github.com/converse-chat/converse/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS authenticates the caller, upgrades to a websocket, registers the
// client, and starts its pumps. Authentication happens before the upgrade:
// a bad token never gets a socket. The token may arrive in the
// Authorization header or, for browser clients, in a query parameter.
func ServeWS(h *Hub, tokens *token.Manager, c *gin.Context) {
	raw := token.FromAuthHeader(c.GetHeader("Authorization"))
	if raw == "" {
		raw = c.Query("token")
	}
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := tokens.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, userID)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(context.Background())
}
