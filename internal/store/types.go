package store

import "github.com/converse-chat/converse/internal/domain"

// ContactRequest is an individual chat request between two users. Rejected
// requests are deleted, so only pending and accepted rows exist.
type ContactRequest struct {
	ID          string
	RequesterID string
	TargetID    string
	Status      domain.RequestStatus
	CreatedAt   int64
	ResolvedAt  int64
}

// Group is a group membership root record (groupId == id).
type Group struct {
	ID        string
	CreatorID string
	Name      string
	AvatarRef string
	CreatedAt int64
}

// GroupMember is one roster entry.
type GroupMember struct {
	GroupID string
	UserID  string
	Role    domain.GroupRole
	AddedAt int64
}

// Invitation tracks a not-yet-connected group candidate until resolved.
// Accepted invitations merge into the roster and the row is deleted.
type Invitation struct {
	ID        string
	GroupID   string
	InviteeID string
	CreatedAt int64
}

// Conversation is the lazily created message-log root. Its id equals the
// owning membership id.
type Conversation struct {
	ID        string
	Kind      string // "individual" or "group"
	CreatedAt int64
}

// Message is one element of a conversation's append-only sequence.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	MediaRef       string
	Type           domain.MessageType
	CreatedAt      int64
	IsEdited       bool
	EditedAt       int64
	Deleted        *domain.DeletionMark // nil while the message is active
}

// ConversationView is everything the visibility resolver needs for one
// conversation and all viewers: the full message sequence plus per-user
// markers and tombstones.
type ConversationView struct {
	ConversationID string
	Kind           string
	Messages       []Message
	JoinedAt       map[string]int64
	LastReadAt     map[string]int64
	// Tombstones maps message id to the set of users who deleted it for
	// themselves.
	Tombstones map[string]map[string]bool
}

// Participants returns the marker pairs for every participant in the view.
func (v *ConversationView) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(v.JoinedAt))
	for userID, joined := range v.JoinedAt {
		out = append(out, domain.Participant{
			UserID:     userID,
			JoinedAt:   joined,
			LastReadAt: v.LastReadAt[userID],
		})
	}
	return out
}

// NotificationEntry is a queued off-band alert awaiting dispatch.
type NotificationEntry struct {
	ID           int64
	UserID       string
	Kind         string
	Payload      string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
