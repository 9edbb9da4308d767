package ledger

import (
	"context"
	"fmt"

	"github.com/converse-chat/converse/internal/cache"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/store"
)

// Edit rewrites a message body. Sender-only, text-only, not after deletion,
// and only within the edit window measured from the original send. The
// window boundary is inclusive: an edit at exactly window age still lands.
func (l *Ledger) Edit(ctx context.Context, conversationID, messageID, actor, newBody string) (*store.Message, error) {
	if newBody == "" {
		return nil, fmt.Errorf("%w: edited body cannot be empty", domain.ErrValidation)
	}

	msg, err := l.db.GetMessage(conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %s in conversation %s", domain.ErrNotFound, messageID, conversationID)
	}
	if msg.SenderID != actor {
		return nil, fmt.Errorf("%w: only the sender may edit a message", domain.ErrForbidden)
	}
	if msg.Type != domain.TypeText {
		return nil, fmt.Errorf("%w: only text messages can be edited", domain.ErrInvalidState)
	}
	if msg.Deleted != nil {
		return nil, fmt.Errorf("%w: message %s was deleted", domain.ErrInvalidState, messageID)
	}

	now := l.now()
	if now-msg.CreatedAt > l.editWindow.Milliseconds() {
		return nil, fmt.Errorf("%w: edit window of %s has passed", domain.ErrInvalidState, l.editWindow)
	}

	if err := l.db.MarkEdited(conversationID, messageID, newBody, now); err != nil {
		return nil, err
	}
	msg.Body = newBody
	msg.IsEdited = true
	msg.EditedAt = now

	view, err := l.db.LoadConversationView(conversationID)
	if err == nil && view != nil {
		l.invalidate(ctx, conversationID, view)
	}
	l.bus.Broadcast(domain.Event{
		Topic: domain.ConversationTopic(conversationID),
		Kind:  domain.EventMessageEdited,
		At:    now,
		Payload: map[string]any{
			"conversationId": conversationID,
			"messageId":      messageID,
			"body":           newBody,
			"editedAt":       now,
		},
	})
	return msg, nil
}

// DeleteResult reports what a Delete call actually did.
type DeleteResult struct {
	Deleted        []string
	AlreadyDeleted []string
	EffectiveScope domain.DeleteScope
}

// Delete removes messages for the actor (ScopeMe) or for everyone
// (ScopeEveryone). Everyone-scope requires the actor to own every target
// and is terminal; mixed ownership fails outright rather than silently
// downgrading the scope. Me-scope records per-viewer tombstones and reports
// repeats as already deleted without re-applying them.
func (l *Ledger) Delete(ctx context.Context, conversationID string, messageIDs []string, actor string, scope domain.DeleteScope) (*DeleteResult, error) {
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("%w: no messages to delete", domain.ErrValidation)
	}
	in, err := l.db.IsParticipant(conversationID, actor)
	if err != nil {
		return nil, err
	}
	if !in {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", domain.ErrForbidden, actor, conversationID)
	}

	msgs := make([]*store.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := l.db.GetMessage(conversationID, id)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, fmt.Errorf("%w: message %s in conversation %s", domain.ErrNotFound, id, conversationID)
		}
		msgs = append(msgs, msg)
	}

	switch scope {
	case domain.ScopeEveryone:
		return l.deleteForEveryone(ctx, conversationID, msgs, actor)
	case domain.ScopeMe:
		return l.deleteForMe(ctx, conversationID, msgs, actor)
	default:
		return nil, fmt.Errorf("%w: unknown delete scope %q", domain.ErrValidation, scope)
	}
}

func (l *Ledger) deleteForEveryone(ctx context.Context, conversationID string, msgs []*store.Message, actor string) (*DeleteResult, error) {
	// Validate the whole set before touching anything: one bad target means
	// nothing is modified.
	for _, msg := range msgs {
		if msg.SenderID != actor {
			return nil, fmt.Errorf("%w: cannot delete someone else's message for everyone", domain.ErrForbidden)
		}
		if msg.Deleted != nil {
			return nil, fmt.Errorf("%w: message %s is already deleted", domain.ErrInvalidState, msg.ID)
		}
	}

	now := l.now()
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	if err := l.db.MarkDeletedForEveryone(conversationID, ids, actor, now); err != nil {
		return nil, err
	}

	view, err := l.db.LoadConversationView(conversationID)
	if err == nil && view != nil {
		l.invalidate(ctx, conversationID, view)
	}
	l.bus.Broadcast(domain.Event{
		Topic: domain.ConversationTopic(conversationID),
		Kind:  domain.EventMessagesDeleted,
		At:    now,
		Payload: map[string]any{
			"conversationId": conversationID,
			"messageIds":     ids,
			"scope":          string(domain.ScopeEveryone),
		},
	})
	return &DeleteResult{Deleted: ids, EffectiveScope: domain.ScopeEveryone}, nil
}

func (l *Ledger) deleteForMe(ctx context.Context, conversationID string, msgs []*store.Message, actor string) (*DeleteResult, error) {
	now := l.now()
	res := &DeleteResult{EffectiveScope: domain.ScopeMe}
	for _, msg := range msgs {
		inserted, err := l.db.AddTombstone(msg.ID, actor, now)
		if err != nil {
			return nil, err
		}
		if inserted {
			res.Deleted = append(res.Deleted, msg.ID)
		} else {
			res.AlreadyDeleted = append(res.AlreadyDeleted, msg.ID)
		}
	}

	// Only the actor's cached views change; the conversation prefix covers
	// their message pages.
	l.cache.InvalidatePrefix(ctx, cache.ConversationPrefix(conversationID))
	l.cache.InvalidatePrefix(ctx, cache.UserPrefix(actor))
	return res, nil
}
