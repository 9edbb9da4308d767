// Package fanout turns conversation-level events into per-user conversation
// list updates. The engine listens to every conversation topic, recomputes
// the affected digests, and publishes a conversationListUpdate on each
// participant's personal topic so list screens refresh without polling.
package fanout

import (
	"context"
	"strings"
	"time"

	"github.com/converse-chat/converse/internal/bus"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/store"
	"github.com/converse-chat/converse/internal/unread"
	"github.com/converse-chat/converse/internal/visibility"
	"go.uber.org/zap"
)

// digestKinds are the conversation events that change what a list screen
// shows. Typing signals don't.
var digestKinds = map[domain.EventKind]bool{
	domain.EventNewMessage:      true,
	domain.EventMessageEdited:   true,
	domain.EventMessagesDeleted: true,
	domain.EventMemberJoined:    true,
	domain.EventMemberRemoved:   true,
}

// Engine drives the digest fan-out.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{db: db, bus: b, logger: logger}
}

// Start subscribes to all conversation topics and begins fanning out.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	events, unsubscribe := e.bus.Subscribe("conversation:", 256)
	go func() {
		defer close(e.done)
		defer unsubscribe()
		for {
			select {
			case evt := <-events:
				e.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handle(evt domain.Event) {
	if !digestKinds[evt.Kind] {
		return
	}
	conversationID := strings.TrimPrefix(evt.Topic, "conversation:")

	view, err := e.db.LoadConversationView(conversationID)
	if err != nil {
		e.logger.Warn("failed to load conversation for fan-out",
			zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	if view == nil {
		return
	}

	now := time.Now().UnixMilli()
	counts := unread.Counts(view)
	for userID, count := range counts {
		payload := map[string]any{
			"conversationId": conversationID,
			"kind":           view.Kind,
			"unread":         count,
		}
		if latest := visibility.Resolve(view, userID, visibility.Filter{Limit: 1}); len(latest) > 0 {
			payload["lastMessage"] = latest[0]
		}
		e.bus.Publish(domain.Event{
			Topic:   domain.UserTopic(userID),
			Kind:    domain.EventConversationList,
			At:      now,
			Payload: payload,
		})
	}
}
