package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/converse-chat/converse/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1024
)

// command is what a connected client may ask of the hub: joining or leaving
// a conversation topic while that conversation is open on screen.
type command struct {
	Action         string `json:"action"` // "subscribe" or "unsubscribe"
	ConversationID string `json:"conversationId"`
}

// Client is one websocket connection for one authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	// joined is owned by the hub run loop.
	joined map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		joined: make(map[string]bool),
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		// The run loop may already be gone; never block on a stopped hub.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.reply(`{"error":"invalid_json"}`)
			continue
		}

		switch cmd.Action {
		case "subscribe":
			if cmd.ConversationID == "" {
				c.reply(`{"error":"missing_conversation_id"}`)
				continue
			}
			ok, err := c.hub.members.IsParticipant(ctx, cmd.ConversationID, c.userID)
			if err != nil {
				c.hub.logger.Warn("subscribe membership check failed",
					zap.Error(err), zap.String("user_id", c.userID))
				c.reply(`{"error":"subscribe_failed"}`)
				continue
			}
			if !ok {
				c.reply(`{"error":"not_a_participant"}`)
				continue
			}
			c.changeTopic(topicChange{client: c, topic: domain.ConversationTopic(cmd.ConversationID), join: true})
		case "unsubscribe":
			c.changeTopic(topicChange{client: c, topic: domain.ConversationTopic(cmd.ConversationID), join: false})
		default:
			c.reply(`{"error":"unsupported_action"}`)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker((pongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) changeTopic(tc topicChange) {
	select {
	case c.hub.retopic <- tc:
	case <-c.hub.done:
	}
}

func (c *Client) reply(msg string) {
	select {
	case c.send <- []byte(msg):
	default:
	}
}
