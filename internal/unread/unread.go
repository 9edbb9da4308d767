// Package unread derives per-user unread counts from a conversation snapshot.
// Counts are never stored: they are recomputed from the message sequence and
// the read marker, so they can't drift.
package unread

import (
	"github.com/converse-chat/converse/internal/store"
	"github.com/converse-chat/converse/internal/visibility"
)

// Count returns the number of messages visible to the user with createdAt
// strictly after their read marker. A user with no marker recorded counts
// every visible message.
func Count(snapshot *store.ConversationView, userID string) int {
	if snapshot == nil {
		return 0
	}
	marker := snapshot.LastReadAt[userID]
	n := 0
	for i := range snapshot.Messages {
		m := &snapshot.Messages[i]
		if m.CreatedAt <= marker {
			continue
		}
		if visibility.Visible(snapshot, userID, m) {
			n++
		}
	}
	return n
}

// Counts returns the unread count for every participant in the snapshot.
// Used by the fan-out digests so one snapshot load serves all recipients.
func Counts(snapshot *store.ConversationView) map[string]int {
	if snapshot == nil {
		return nil
	}
	out := make(map[string]int, len(snapshot.JoinedAt))
	for userID := range snapshot.JoinedAt {
		out[userID] = Count(snapshot, userID)
	}
	return out
}
