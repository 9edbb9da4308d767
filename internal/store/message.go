package store

import (
	"database/sql"
	"fmt"

	"github.com/converse-chat/converse/internal/domain"
)

// AppendMessage inserts a message at the end of a conversation's sequence.
// The insert is the single append path; atomicity per call comes from the
// SQLite writer.
func (db *DB) AppendMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, body, media_ref, msg_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.MediaRef, m.Type, m.CreatedAt)
	return err
}

// GetMessage returns one message scoped to a conversation, or nil when
// absent.
func (db *DB) GetMessage(conversationID, messageID string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, sender_id, body, media_ref, msg_type,
		       created_at, is_edited, edited_at,
		       deleted_for_everyone, deleted_by, deleted_at
		FROM messages WHERE id = ? AND conversation_id = ?`, messageID, conversationID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a conversation's full sequence in append order.
// Visibility filtering and pagination happen above this layer, over the
// complete set, so page boundaries reflect the final visible ordering.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, body, media_ref, msg_type,
		       created_at, is_edited, edited_at,
		       deleted_for_everyone, deleted_by, deleted_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkEdited rewrites a message body and stamps the edit.
func (db *DB) MarkEdited(conversationID, messageID, newBody string, at int64) error {
	_, err := db.Exec(`
		UPDATE messages SET body = ?, is_edited = 1, edited_at = ?
		WHERE id = ? AND conversation_id = ?`,
		newBody, at, messageID, conversationID)
	return err
}

// MarkDeletedForEveryone tombstones a set of messages globally in one
// transaction: body replaced, media cleared, terminal flags set.
func (db *DB) MarkDeletedForEveryone(conversationID string, messageIDs []string, by string, at int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range messageIDs {
		if _, err := tx.Exec(`
			UPDATE messages
			SET body = ?, media_ref = '', deleted_for_everyone = 1, deleted_by = ?, deleted_at = ?
			WHERE id = ? AND conversation_id = ? AND deleted_for_everyone = 0`,
			domain.TombstoneBody, by, at, id, conversationID); err != nil {
			return fmt.Errorf("tombstone message %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// AddTombstone records a per-user deletion tuple. Returns false when the
// tuple already existed (the deletion is reported as already applied, never
// re-applied).
func (db *DB) AddTombstone(messageID, userID string, at int64) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO message_tombstones (message_id, user_id, deleted_at)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var deletedForEveryone bool
	var deletedBy string
	var deletedAt int64
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.MediaRef, &m.Type,
		&m.CreatedAt, &m.IsEdited, &m.EditedAt,
		&deletedForEveryone, &deletedBy, &deletedAt,
	); err != nil {
		return nil, err
	}
	if deletedForEveryone {
		m.Deleted = &domain.DeletionMark{By: deletedBy, At: deletedAt}
	}
	return &m, nil
}
