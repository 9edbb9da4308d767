// Package hub manages live websocket connections and routes bus events to
// them by topic. A client always listens on its own personal topic; it joins
// conversation topics explicitly while a conversation is open on screen,
// gated by membership. Delivery is best-effort: a slow client is dropped,
// and a reconnecting client resynchronizes through normal reads.
package hub

import (
	"context"
	"encoding/json"

	"github.com/converse-chat/converse/internal/bus"
	"github.com/converse-chat/converse/internal/domain"
	"go.uber.org/zap"
)

// ParticipantChecker gates conversation topic subscriptions. Satisfied by
// membership.Directory.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// envelope is the wire form of an event pushed to a client.
type envelope struct {
	Topic   string           `json:"topic"`
	Kind    domain.EventKind `json:"kind"`
	At      int64            `json:"at"`
	Payload any              `json:"payload,omitempty"`
}

type topicChange struct {
	client *Client
	topic  string
	join   bool
}

// Hub routes events to connected clients.
type Hub struct {
	bus     *bus.Bus
	members ParticipantChecker
	logger  *zap.Logger

	// topics maps a topic to the set of clients joined to it. Touched only
	// by the run loop.
	topics map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	retopic    chan topicChange
	deliver    chan domain.Event

	cancel context.CancelFunc
	done   chan struct{}
}

func New(b *bus.Bus, members ParticipantChecker, logger *zap.Logger) *Hub {
	return &Hub{
		bus:        b,
		members:    members,
		logger:     logger,
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		retopic:    make(chan topicChange),
		deliver:    make(chan domain.Event, 256),
	}
}

// Start subscribes the hub to all routed topics and begins the run loop.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	convCh, unsubConv := h.bus.Subscribe("conversation:", 256)
	userCh, unsubUser := h.bus.Subscribe("user:", 256)
	go func() {
		defer close(h.done)
		defer unsubConv()
		defer unsubUser()
		h.run(ctx, convCh, userCh)
	}()
}

// Stop shuts down the run loop and disconnects every client.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

// Deliver injects an event for local routing without touching the bus. The
// redis bridge uses this for remote events so they are never re-published.
func (h *Hub) Deliver(evt domain.Event) {
	select {
	case h.deliver <- evt:
	default:
		h.logger.Warn("hub delivery queue full, event dropped", zap.String("topic", evt.Topic))
	}
}

func (h *Hub) run(ctx context.Context, convCh, userCh <-chan domain.Event) {
	for {
		select {
		case c := <-h.register:
			// Every client listens on its personal topic for its lifetime.
			h.join(c, domain.UserTopic(c.userID))
			h.logger.Info("client connected", zap.String("user_id", c.userID))

		case c := <-h.unregister:
			for topic := range c.joined {
				h.leave(c, topic)
			}
			close(c.send)
			h.logger.Info("client disconnected", zap.String("user_id", c.userID))

		case tc := <-h.retopic:
			if tc.join {
				h.join(tc.client, tc.topic)
			} else {
				h.leave(tc.client, tc.topic)
			}

		case evt := <-convCh:
			h.route(evt)
		case evt := <-userCh:
			h.route(evt)
		case evt := <-h.deliver:
			h.route(evt)

		case <-ctx.Done():
			// Close the connections rather than the send channels: the read
			// pump may still be replying on its channel. Both pumps exit once
			// their connection dies.
			closed := make(map[*Client]bool)
			for _, clients := range h.topics {
				for c := range clients {
					if !closed[c] {
						closed[c] = true
						_ = c.conn.Close()
					}
				}
			}
			return
		}
	}
}

func (h *Hub) join(c *Client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][c] = true
	c.joined[topic] = true
}

func (h *Hub) leave(c *Client, topic string) {
	if clients, ok := h.topics[topic]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(c.joined, topic)
}

func (h *Hub) route(evt domain.Event) {
	clients, ok := h.topics[evt.Topic]
	if !ok {
		return
	}
	payload, err := json.Marshal(envelope{
		Topic:   evt.Topic,
		Kind:    evt.Kind,
		At:      evt.At,
		Payload: evt.Payload,
	})
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}
	for c := range clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop the event, not the connection. The read
			// pump notices a dead peer through ping timeouts.
		}
	}
}
