package domain

import "fmt"

// EventKind names a mutation event fanned out to live channels.
type EventKind string

const (
	EventNewMessage       EventKind = "newMessage"
	EventMessageEdited    EventKind = "messageEdited"
	EventMessagesDeleted  EventKind = "messagesDeleted"
	EventTypingStarted    EventKind = "typingStarted"
	EventTypingStopped    EventKind = "typingStopped"
	EventMemberJoined     EventKind = "memberJoined"
	EventMemberRemoved    EventKind = "memberRemoved"
	EventRequestAccepted  EventKind = "requestAccepted"
	EventRequestRejected  EventKind = "requestRejected"
	EventConversationList EventKind = "conversationListUpdate"
)

// ConversationTopic is the channel for live-open viewers of a conversation.
func ConversationTopic(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// UserTopic is a user's personal channel, subscribed while connected.
func UserTopic(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// Event is a mutation event routed to a single topic.
type Event struct {
	Topic   string
	Kind    EventKind
	At      int64
	Payload any
}

// Broadcaster publishes events to live channels. Delivery is at-most-once
// and best-effort; publish failures never fail the originating mutation.
// Mutation handlers receive a Broadcaster rather than reaching for a shared
// hub, so tests can substitute a fake.
type Broadcaster interface {
	Broadcast(evt Event)
}

// Participant is a conversation participant marker pair: the visibility
// horizon and the monotonic read marker, both unix milliseconds. A zero
// JoinedAt means no horizon is recorded for that user.
type Participant struct {
	UserID     string
	JoinedAt   int64
	LastReadAt int64
}
