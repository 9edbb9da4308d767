package store

import (
	"database/sql"
	"fmt"

	"github.com/converse-chat/converse/internal/domain"
)

// CreateGroup inserts the group root, its initial roster, and any pending
// invitations in one transaction.
func (db *DB) CreateGroup(g *Group, members []GroupMember, invites []Invitation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO groups (id, creator_id, name, avatar_ref, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.CreatorID, g.Name, g.AvatarRef, g.CreatedAt); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	for _, m := range members {
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_id, user_id, role, added_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			m.GroupID, m.UserID, m.Role, m.AddedAt); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}

	for _, inv := range invites {
		if _, err := tx.Exec(`
			INSERT INTO group_invitations (id, group_id, invitee_id, status, created_at)
			VALUES (?, ?, ?, 'pending', ?)`,
			inv.ID, inv.GroupID, inv.InviteeID, inv.CreatedAt); err != nil {
			return fmt.Errorf("insert invitation: %w", err)
		}
	}

	return tx.Commit()
}

// GetGroup returns a group root by id, or nil when absent.
func (db *DB) GetGroup(id string) (*Group, error) {
	var g Group
	err := db.QueryRow(`
		SELECT id, creator_id, name, avatar_ref, created_at
		FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.CreatorID, &g.Name, &g.AvatarRef, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroupMembers returns the roster for a group.
func (db *DB) ListGroupMembers(groupID string) ([]GroupMember, error) {
	rows, err := db.Query(`
		SELECT group_id, user_id, role, added_at
		FROM group_members WHERE group_id = ? ORDER BY added_at ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetGroupMember returns one roster entry, or nil when absent.
func (db *DB) GetGroupMember(groupID, userID string) (*GroupMember, error) {
	var m GroupMember
	err := db.QueryRow(`
		SELECT group_id, user_id, role, added_at
		FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).
		Scan(&m.GroupID, &m.UserID, &m.Role, &m.AddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddGroupMember adds a roster entry, keeping an existing entry untouched so
// re-adding never rewrites the original added_at stamp.
func (db *DB) AddGroupMember(m *GroupMember) error {
	_, err := db.Exec(`
		INSERT INTO group_members (group_id, user_id, role, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		m.GroupID, m.UserID, m.Role, m.AddedAt)
	return err
}

// RemoveGroupMember drops a roster entry.
func (db *DB) RemoveGroupMember(groupID, userID string) error {
	_, err := db.Exec(`
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	return err
}

// SetGroupMemberRole flips a member's role.
func (db *DB) SetGroupMemberRole(groupID, userID string, role domain.GroupRole) error {
	_, err := db.Exec(`
		UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`,
		role, groupID, userID)
	return err
}

// SharedGroupExists reports whether two users are both members of any group.
func (db *DB) SharedGroupExists(a, b string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM group_members m1
		JOIN group_members m2 ON m1.group_id = m2.group_id
		WHERE m1.user_id = ? AND m2.user_id = ?`, a, b).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateInvitation inserts a pending invitation.
func (db *DB) CreateInvitation(inv *Invitation) error {
	_, err := db.Exec(`
		INSERT INTO group_invitations (id, group_id, invitee_id, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		inv.ID, inv.GroupID, inv.InviteeID, inv.CreatedAt)
	return err
}

// GetInvitation returns an invitation by id, or nil when absent.
func (db *DB) GetInvitation(id string) (*Invitation, error) {
	var inv Invitation
	err := db.QueryRow(`
		SELECT id, group_id, invitee_id, created_at
		FROM group_invitations WHERE id = ?`, id).
		Scan(&inv.ID, &inv.GroupID, &inv.InviteeID, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// DeleteInvitation removes an invitation row (on accept or reject).
func (db *DB) DeleteInvitation(id string) error {
	_, err := db.Exec(`DELETE FROM group_invitations WHERE id = ?`, id)
	return err
}

// ListInvitationsFor returns pending invitations addressed to a user.
func (db *DB) ListInvitationsFor(userID string) ([]Invitation, error) {
	rows, err := db.Query(`
		SELECT id, group_id, invitee_id, created_at
		FROM group_invitations WHERE invitee_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invs []Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.GroupID, &inv.InviteeID, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// DeleteGroup removes the group root and cascades to roster, pending
// invitations, the conversation, its messages and tombstones.
func (db *DB) DeleteGroup(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The conversation shares the group's id; foreign keys cascade from
	// each root to its dependents.
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM groups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	return tx.Commit()
}
