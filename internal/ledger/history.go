package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/converse-chat/converse/internal/cache"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/unread"
	"github.com/converse-chat/converse/internal/visibility"
	"go.uber.org/zap"
)

// Digest is one row of a user's conversation list.
type Digest struct {
	ConversationID string           `json:"conversationId"`
	Kind           string           `json:"kind"`
	LastMessage    *visibility.View `json:"lastMessage,omitempty"`
	Unread         int              `json:"unread"`
}

// ListMessages returns the viewer's visible slice of a conversation, cached
// read-through per viewer and filter shape. Fetching history also reads it:
// the viewer's read marker advances to now as a side effect, on hits and
// misses alike.
func (l *Ledger) ListMessages(ctx context.Context, conversationID, viewer string, f visibility.Filter) ([]visibility.View, error) {
	in, err := l.db.IsParticipant(conversationID, viewer)
	if err != nil {
		return nil, err
	}
	if !in {
		// The conversation may not have been touched yet; membership alone
		// grants an (empty) view.
		if _, err := l.snapshot(ctx, conversationID); err != nil {
			return nil, err
		}
		if in, err = l.db.IsParticipant(conversationID, viewer); err != nil {
			return nil, err
		}
		if !in {
			return nil, fmt.Errorf("%w: %s is not a participant of %s", domain.ErrForbidden, viewer, conversationID)
		}
	}

	defer func() {
		if err := l.db.AdvanceLastRead(conversationID, viewer, l.now()); err != nil {
			l.logger.Warn("failed to advance read marker", zap.Error(err), zap.String("conversation_id", conversationID))
			return
		}
		// The marker move is a mutation like any other: the viewer's cached
		// conversation list holds the old unread count until invalidated.
		l.cache.InvalidatePrefix(ctx, cache.UserPrefix(viewer))
	}()

	key := cache.ListKey(cache.ConversationPrefix(conversationID), viewer, f.Limit, f.BeforeTS, f.BeforeID, f.Search)
	if payload, ok := l.cache.Get(ctx, key); ok {
		var views []visibility.View
		if err := json.Unmarshal(payload, &views); err == nil {
			return views, nil
		}
		// A corrupt entry degrades to a miss.
	}

	view, err := l.db.LoadConversationView(conversationID)
	if err != nil {
		return nil, err
	}
	views := visibility.Resolve(view, viewer, f)

	if payload, err := json.Marshal(views); err == nil {
		l.cache.Set(ctx, key, payload, l.cacheTTL)
	}
	return views, nil
}

// ListConversations returns digests of the viewer's conversations, most
// recently active first, cached read-through per viewer.
func (l *Ledger) ListConversations(ctx context.Context, viewer string, limit int) ([]Digest, error) {
	key := cache.ListKey(cache.UserPrefix(viewer), viewer, limit, 0, "", "")
	if payload, ok := l.cache.Get(ctx, key); ok {
		var digests []Digest
		if err := json.Unmarshal(payload, &digests); err == nil {
			return digests, nil
		}
	}

	ids, err := l.db.ListConversationIDsFor(viewer)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	digests := make([]Digest, 0, len(ids))
	for _, id := range ids {
		view, err := l.db.LoadConversationView(id)
		if err != nil {
			return nil, err
		}
		if view == nil {
			continue
		}
		d := Digest{
			ConversationID: id,
			Kind:           view.Kind,
			Unread:         unread.Count(view, viewer),
		}
		if latest := visibility.Resolve(view, viewer, visibility.Filter{Limit: 1}); len(latest) > 0 {
			d.LastMessage = &latest[0]
		}
		digests = append(digests, d)
	}

	if payload, err := json.Marshal(digests); err == nil {
		l.cache.Set(ctx, key, payload, l.cacheTTL)
	}
	return digests, nil
}
