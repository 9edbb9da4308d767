package store

import "time"

// EnqueueNotification adds an off-band alert to the dispatch queue.
func (db *DB) EnqueueNotification(userID, kind, payload string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO notification_outbox (user_id, kind, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		userID, kind, payload, now, now)
	return err
}

// PendingNotifications returns entries that are still queued.
func (db *DB) PendingNotifications() ([]NotificationEntry, error) {
	rows, err := db.Query(`
		SELECT id, user_id, kind, payload, status, error_message
		FROM notification_outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []NotificationEntry
	for rows.Next() {
		var e NotificationEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Payload, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkNotificationSending updates an entry to 'sending' status.
func (db *DB) MarkNotificationSending(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE notification_outbox SET status = 'sending', updated_at = ? WHERE id = ?`, now, id)
	return err
}

// MarkNotificationSent updates an entry to 'sent' status.
func (db *DB) MarkNotificationSent(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE notification_outbox SET status = 'sent', updated_at = ? WHERE id = ?`, now, id)
	return err
}

// MarkNotificationFailed updates an entry to 'failed' with an error message.
func (db *DB) MarkNotificationFailed(id int64, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE notification_outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ?`, errMsg, now, id)
	return err
}
