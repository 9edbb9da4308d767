// Package cache is a read-through cache for list queries. Entries are keyed
// per viewer and filter shape, namespaced per conversation or user so a
// mutation can blow away every affected list with one prefix invalidation.
// The cache is an optimization only: every error degrades to a miss.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores serialized query results. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the cached payload and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a payload with a TTL.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	// InvalidatePrefix removes every key under a namespace prefix.
	InvalidatePrefix(ctx context.Context, prefix string)
}

// ConversationPrefix namespaces the message-list entries of one conversation.
func ConversationPrefix(conversationID string) string {
	return fmt.Sprintf("conv:%s:", conversationID)
}

// UserPrefix namespaces the conversation-list entries of one user.
func UserPrefix(userID string) string {
	return fmt.Sprintf("user:%s:", userID)
}

// ListKey builds a cache key under a namespace prefix from the viewer and the
// query shape. Different filters never collide.
func ListKey(prefix, viewerID string, limit int, beforeTS int64, beforeID, search string) string {
	return fmt.Sprintf("%s%s:%d:%d:%s:%s", prefix, viewerID, limit, beforeTS, beforeID, search)
}
