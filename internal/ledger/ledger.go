// Package ledger owns the per-conversation append-only message sequences and
// everything derived from them: read markers, revisions, deletions, and the
// viewer-facing history queries. Persistence is the source of truth; cache
// invalidation, live fan-out, and notification enqueues run after the write
// and never fail a mutation.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/converse-chat/converse/internal/cache"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/entitle"
	"github.com/converse-chat/converse/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MembershipSource resolves a conversation key to its kind and participant
// set. Satisfied by membership.Directory; an interface here keeps the ledger
// free of a package cycle and testable with a fixture.
type MembershipSource interface {
	Resolve(ctx context.Context, convKey string) (kind string, participants []domain.Participant, err error)
}

// Ledger is the conversation message service.
type Ledger struct {
	db         *store.DB
	members    MembershipSource
	guard      entitle.Guard
	bus        domain.Broadcaster
	cache      cache.Cache
	logger     *zap.Logger
	editWindow time.Duration
	cacheTTL   time.Duration
	// now stamps mutations; tests pin it to exercise time boundaries.
	now func() int64
}

func New(db *store.DB, members MembershipSource, guard entitle.Guard, b domain.Broadcaster,
	c cache.Cache, logger *zap.Logger, editWindow, cacheTTL time.Duration) *Ledger {
	return &Ledger{
		db:         db,
		members:    members,
		guard:      guard,
		bus:        b,
		cache:      c,
		logger:     logger,
		editWindow: editWindow,
		cacheTTL:   cacheTTL,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Append adds a message to the end of a conversation's sequence, creating
// the conversation lazily on first send. The sender's read marker advances
// to the new message so their own send never counts as unread.
func (l *Ledger) Append(ctx context.Context, convKey, sender, body, mediaRef string, msgType domain.MessageType) (*store.Message, error) {
	if sender == "" {
		return nil, fmt.Errorf("%w: sender is required", domain.ErrValidation)
	}
	if body == "" && mediaRef == "" {
		return nil, fmt.Errorf("%w: a message needs a body or a media reference", domain.ErrValidation)
	}
	switch msgType {
	case domain.TypeText, domain.TypeImage, domain.TypeVideo, domain.TypeAudio, domain.TypeFile:
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, msgType)
	}
	if !l.guard.MaySend(sender) {
		return nil, fmt.Errorf("%w: user %s may not send", domain.ErrForbidden, sender)
	}

	view, err := l.snapshot(ctx, convKey)
	if err != nil {
		return nil, err
	}
	if _, ok := view.JoinedAt[sender]; !ok {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", domain.ErrForbidden, sender, convKey)
	}

	now := l.now()
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: convKey,
		SenderID:       sender,
		Body:           body,
		MediaRef:       mediaRef,
		Type:           msgType,
		CreatedAt:      now,
	}
	if err := l.db.AppendMessage(msg); err != nil {
		return nil, err
	}
	if err := l.db.AdvanceLastRead(convKey, sender, now); err != nil {
		l.logger.Warn("failed to advance sender read marker", zap.Error(err), zap.String("conversation_id", convKey))
	}

	l.invalidate(ctx, convKey, view)
	l.bus.Broadcast(domain.Event{
		Topic: domain.ConversationTopic(convKey),
		Kind:  domain.EventNewMessage,
		At:    now,
		Payload: map[string]any{
			"conversationId": convKey,
			"messageId":      msg.ID,
			"senderId":       sender,
			"type":           string(msgType),
			"createdAt":      now,
		},
	})
	for userID := range view.JoinedAt {
		if userID == sender {
			continue
		}
		if err := l.db.EnqueueNotification(userID, string(domain.EventNewMessage),
			fmt.Sprintf(`{"conversationId":%q,"messageId":%q}`, convKey, msg.ID)); err != nil {
			l.logger.Warn("failed to enqueue notification", zap.Error(err), zap.String("user_id", userID))
		}
	}

	return msg, nil
}

// MarkRead advances a participant's read marker. The marker is monotonic:
// an older timestamp is a no-op, never a rewind.
func (l *Ledger) MarkRead(ctx context.Context, conversationID, userID string, at int64) error {
	in, err := l.db.IsParticipant(conversationID, userID)
	if err != nil {
		return err
	}
	if !in {
		return fmt.Errorf("%w: %s is not a participant of %s", domain.ErrForbidden, userID, conversationID)
	}
	if err := l.db.AdvanceLastRead(conversationID, userID, at); err != nil {
		return err
	}
	l.cache.InvalidatePrefix(ctx, cache.UserPrefix(userID))
	return nil
}

// Typing broadcasts a typing signal to the conversation's live viewers.
// Nothing is stored; a dropped signal is simply a missed indicator.
func (l *Ledger) Typing(ctx context.Context, conversationID, userID string, started bool) error {
	in, err := l.db.IsParticipant(conversationID, userID)
	if err != nil {
		return err
	}
	if !in {
		return fmt.Errorf("%w: %s is not a participant of %s", domain.ErrForbidden, userID, conversationID)
	}

	kind := domain.EventTypingStopped
	if started {
		kind = domain.EventTypingStarted
	}
	l.bus.Broadcast(domain.Event{
		Topic: domain.ConversationTopic(conversationID),
		Kind:  kind,
		At:    l.now(),
		Payload: map[string]string{
			"conversationId": conversationID,
			"userId":         userID,
		},
	})
	return nil
}

// snapshot loads the conversation view, creating the conversation from its
// membership on first touch.
func (l *Ledger) snapshot(ctx context.Context, convKey string) (*store.ConversationView, error) {
	view, err := l.db.LoadConversationView(convKey)
	if err != nil {
		return nil, err
	}
	if view != nil {
		return view, nil
	}

	kind, participants, err := l.members.Resolve(ctx, convKey)
	if err != nil {
		return nil, err
	}
	if err := l.db.EnsureConversation(convKey, kind, l.now(), participants); err != nil {
		return nil, err
	}
	view, err = l.db.LoadConversationView(convKey)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, convKey)
	}
	return view, nil
}

// invalidate clears the cached lists a conversation mutation can affect:
// the conversation's message pages plus every participant's conversation
// list.
func (l *Ledger) invalidate(ctx context.Context, conversationID string, view *store.ConversationView) {
	l.cache.InvalidatePrefix(ctx, cache.ConversationPrefix(conversationID))
	for userID := range view.JoinedAt {
		l.cache.InvalidatePrefix(ctx, cache.UserPrefix(userID))
	}
}
