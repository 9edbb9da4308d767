package store

import (
	"database/sql"
	"fmt"

	"github.com/converse-chat/converse/internal/domain"
)

// EnsureConversation creates the conversation row and participant mirror if
// absent. Existing participant rows keep their joined_at stamp, so repeated
// mirroring never duplicates or rewrites horizons.
func (db *DB) EnsureConversation(id, kind string, at int64, participants []domain.Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, kind, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, id, kind, at); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range participants {
		if _, err := tx.Exec(`
			INSERT INTO participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			id, p.UserID, p.JoinedAt); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit()
}

// GetConversation returns a conversation by id, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, kind, created_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Kind, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RemoveParticipant drops a user from the participant mirror.
func (db *DB) RemoveParticipant(conversationID, userID string) error {
	_, err := db.Exec(`
		DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID)
	return err
}

// IsParticipant reports whether a user is in the conversation's mirror.
func (db *DB) IsParticipant(conversationID, userID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdvanceLastRead moves a user's read marker forward. The marker is
// monotonic: an older timestamp never rewinds it.
func (db *DB) AdvanceLastRead(conversationID, userID string, at int64) error {
	_, err := db.Exec(`
		UPDATE participants SET last_read_at = MAX(last_read_at, ?)
		WHERE conversation_id = ? AND user_id = ?`, at, conversationID, userID)
	return err
}

// ListConversationIDsFor returns the conversations a user participates in,
// most recently active first.
func (db *DB) ListConversationIDsFor(userID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT c.id
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		LEFT JOIN (
			SELECT conversation_id, MAX(created_at) AS last_at
			FROM messages GROUP BY conversation_id
		) m ON m.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY COALESCE(m.last_at, c.created_at) DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadConversationView loads the full message sequence plus per-user markers
// and tombstones for one conversation. Returns nil when the conversation
// does not exist.
func (db *DB) LoadConversationView(conversationID string) (*ConversationView, error) {
	conv, err := db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}

	view := &ConversationView{
		ConversationID: conversationID,
		Kind:           conv.Kind,
		JoinedAt:       make(map[string]int64),
		LastReadAt:     make(map[string]int64),
		Tombstones:     make(map[string]map[string]bool),
	}

	rows, err := db.Query(`
		SELECT user_id, joined_at, last_read_at
		FROM participants WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var userID string
		var joined, lastRead int64
		if err := rows.Scan(&userID, &joined, &lastRead); err != nil {
			return nil, err
		}
		view.JoinedAt[userID] = joined
		view.LastReadAt[userID] = lastRead
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	view.Messages, err = db.ListMessages(conversationID)
	if err != nil {
		return nil, err
	}

	tombs, err := db.Query(`
		SELECT t.message_id, t.user_id
		FROM message_tombstones t
		JOIN messages m ON m.id = t.message_id
		WHERE m.conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tombs.Close() }()
	for tombs.Next() {
		var msgID, userID string
		if err := tombs.Scan(&msgID, &userID); err != nil {
			return nil, err
		}
		if view.Tombstones[msgID] == nil {
			view.Tombstones[msgID] = make(map[string]bool)
		}
		view.Tombstones[msgID][userID] = true
	}
	return view, tombs.Err()
}
