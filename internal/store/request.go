package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/converse-chat/converse/internal/domain"
	"github.com/mattn/go-sqlite3"
)

// CreateContactRequest inserts a new pending request. The unique pair index
// rejects a second pending request between the same two users regardless of
// direction; that violation surfaces as ErrInvalidState so racing senders
// get the same answer as the service-level check.
func (db *DB) CreateContactRequest(r *ContactRequest) error {
	_, err := db.Exec(`
		INSERT INTO contact_requests (id, requester_id, target_id, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		r.ID, r.RequesterID, r.TargetID, r.CreatedAt)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: a pending request already exists between %s and %s",
			domain.ErrInvalidState, r.RequesterID, r.TargetID)
	}
	return err
}

// GetContactRequest returns a request by id, or nil when absent.
func (db *DB) GetContactRequest(id string) (*ContactRequest, error) {
	var r ContactRequest
	err := db.QueryRow(`
		SELECT id, requester_id, target_id, status, created_at, resolved_at
		FROM contact_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.RequesterID, &r.TargetID, &r.Status, &r.CreatedAt, &r.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RequestBetween returns the request between two users with the given status
// (either direction), or nil when none exists.
func (db *DB) RequestBetween(a, b string, status domain.RequestStatus) (*ContactRequest, error) {
	var r ContactRequest
	err := db.QueryRow(`
		SELECT id, requester_id, target_id, status, created_at, resolved_at
		FROM contact_requests
		WHERE status = ?
		  AND ((requester_id = ? AND target_id = ?) OR (requester_id = ? AND target_id = ?))`,
		status, a, b, b, a).
		Scan(&r.ID, &r.RequesterID, &r.TargetID, &r.Status, &r.CreatedAt, &r.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkRequestAccepted resolves a pending request. Calling it on an already
// accepted row is a no-op at this layer; the service decides idempotence.
func (db *DB) MarkRequestAccepted(id string, at int64) error {
	_, err := db.Exec(`
		UPDATE contact_requests SET status = 'accepted', resolved_at = ?
		WHERE id = ? AND status = 'pending'`, at, id)
	return err
}

// DeleteContactRequest removes a request row (used for rejections).
func (db *DB) DeleteContactRequest(id string) error {
	_, err := db.Exec(`DELETE FROM contact_requests WHERE id = ?`, id)
	return err
}

// ListPendingRequestsFor returns pending requests addressed to a user.
func (db *DB) ListPendingRequestsFor(userID string) ([]ContactRequest, error) {
	rows, err := db.Query(`
		SELECT id, requester_id, target_id, status, created_at, resolved_at
		FROM contact_requests
		WHERE target_id = ? AND status = 'pending'
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reqs []ContactRequest
	for rows.Next() {
		var r ContactRequest
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.TargetID, &r.Status, &r.CreatedAt, &r.ResolvedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
