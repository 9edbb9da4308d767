// Package membership owns who can talk to whom: individual chat requests,
// group rosters, and invitations. Every conversation's participant set is
// derived from the records here; the ledger's participant mirror is a
// projection of this directory, never the other way around.
package membership

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

// Directory is the membership service. All mutations persist first, then
// fan out events and invalidate caches best-effort.
type Directory struct {
	db     *store.DB
	guard  entitle.Guard
	bus    domain.Broadcaster
	cache  cache.Cache
	logger *zap.Logger
}

func NewDirectory(db *store.DB, guard entitle.Guard, b domain.Broadcaster, c cache.Cache, logger *zap.Logger) *Directory {
	return &Directory{db: db, guard: guard, bus: b, cache: c, logger: logger}
}

// SendRequest opens a pending individual chat request from requester to
// target. At most one pending request may exist between a pair, in either
// direction.
func (d *Directory) SendRequest(ctx context.Context, requester, target string) (*store.ContactRequest, error) {
	if requester == "" || target == "" {
		return nil, fmt.Errorf("%w: requester and target are required", domain.ErrValidation)
	}
	if requester == target {
		return nil, fmt.Errorf("%w: cannot request a chat with yourself", domain.ErrValidation)
	}
	if !d.guard.MaySend(requester) {
		return nil, fmt.Errorf("%w: user %s may not send", domain.ErrForbidden, requester)
	}

	existing, err := d.db.RequestBetween(requester, target, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: a pending request already exists between %s and %s",
			domain.ErrInvalidState, requester, target)
	}

	req := &store.ContactRequest{
		ID:          uuid.NewString(),
		RequesterID: requester,
		TargetID:    target,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := d.db.CreateContactRequest(req); err != nil {
		return nil, err
	}

	d.enqueueNotification(target, "contactRequest", fmt.Sprintf(`{"requestId":%q,"from":%q}`, req.ID, requester))
	return req, nil
}

// ActOnRequest resolves a pending request. Only the target may act. Accept
// is idempotent: repeating it succeeds without restamping anything. Reject
// deletes the row so the pair can try again later.
func (d *Directory) ActOnRequest(ctx context.Context, requestID, actor string, action domain.RequestAction) error {
	target, err := action.Status()
	if err != nil {
		return err
	}

	req, err := d.db.GetContactRequest(requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
	}
	if req.TargetID != actor {
		return fmt.Errorf("%w: only the request target may act on it", domain.ErrForbidden)
	}

	if req.Status == domain.StatusAccepted && target == domain.StatusAccepted {
		return nil // already accepted, nothing to redo
	}
	if err := domain.Transition(req.Status, target); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	switch target {
	case domain.StatusAccepted:
		if err := d.db.MarkRequestAccepted(req.ID, now); err != nil {
			return err
		}
		// The request id doubles as the conversation id; mirror both
		// participants with the acceptance as their horizon.
		if err := d.db.EnsureConversation(req.ID, "individual", now, []domain.Participant{
			{UserID: req.RequesterID, JoinedAt: now},
			{UserID: req.TargetID, JoinedAt: now},
		}); err != nil {
			return err
		}
		d.broadcastToPair(req, domain.EventRequestAccepted, now)
		d.enqueueNotification(req.RequesterID, "requestAccepted", fmt.Sprintf(`{"requestId":%q}`, req.ID))
	case domain.StatusRejected:
		if err := d.db.DeleteContactRequest(req.ID); err != nil {
			return err
		}
		d.broadcastToPair(req, domain.EventRequestRejected, now)
	}

	d.cache.InvalidatePrefix(ctx, cache.UserPrefix(req.RequesterID))
	d.cache.InvalidatePrefix(ctx, cache.UserPrefix(req.TargetID))
	return nil
}

// GroupResult is the outcome of CreateGroup: who got in directly and who
// still has to accept.
type GroupResult struct {
	Group       *store.Group
	Members     []store.GroupMember
	Invitations []store.Invitation
}

// CreateGroup creates a group and partitions the candidates: users already
// connected to the creator join directly, platform admins join every group
// directly, everyone else gets a pending invitation. Direct members are
// stamped now; invitees get their horizon at acceptance.
func (d *Directory) CreateGroup(ctx context.Context, creator, name, avatarRef string, candidateIDs []string) (*GroupResult, error) {
	if creator == "" {
		return nil, fmt.Errorf("%w: creator is required", domain.ErrValidation)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", domain.ErrValidation)
	}

	now := time.Now().UnixMilli()
	g := &store.Group{
		ID:        uuid.NewString(),
		CreatorID: creator,
		Name:      name,
		AvatarRef: avatarRef,
		CreatedAt: now,
	}

	members := []store.GroupMember{
		{GroupID: g.ID, UserID: creator, Role: domain.RoleCreator, AddedAt: now},
	}
	var invites []store.Invitation
	seen := map[string]bool{creator: true}

	for _, candidate := range candidateIDs {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true

		direct := d.guard.IsPlatformAdmin(candidate)
		if !direct {
			var err error
			direct, err = d.connected(creator, candidate)
			if err != nil {
				return nil, err
			}
		}
		if direct {
			members = append(members, store.GroupMember{
				GroupID: g.ID, UserID: candidate, Role: domain.RoleMember, AddedAt: now,
			})
		} else {
			invites = append(invites, store.Invitation{
				ID: uuid.NewString(), GroupID: g.ID, InviteeID: candidate, CreatedAt: now,
			})
		}
	}

	// Platform admins belong to every group whether or not they were named.
	for _, adminID := range d.guard.AdminIDs() {
		if seen[adminID] {
			continue
		}
		seen[adminID] = true
		members = append(members, store.GroupMember{
			GroupID: g.ID, UserID: adminID, Role: domain.RoleMember, AddedAt: now,
		})
	}

	if err := d.db.CreateGroup(g, members, invites); err != nil {
		return nil, err
	}

	participants := make([]domain.Participant, len(members))
	for i, m := range members {
		participants[i] = domain.Participant{UserID: m.UserID, JoinedAt: m.AddedAt}
	}
	if err := d.db.EnsureConversation(g.ID, "group", now, participants); err != nil {
		return nil, err
	}

	for _, m := range members {
		d.cache.InvalidatePrefix(ctx, cache.UserPrefix(m.UserID))
	}
	for _, inv := range invites {
		d.enqueueNotification(inv.InviteeID, "groupInvitation",
			fmt.Sprintf(`{"invitationId":%q,"groupId":%q,"groupName":%q}`, inv.ID, g.ID, name))
	}

	d.logger.Info("group created",
		zap.String("group_id", g.ID),
		zap.String("creator", creator),
		zap.Int("members", len(members)),
		zap.Int("invitations", len(invites)))

	return &GroupResult{Group: g, Members: members, Invitations: invites}, nil
}

// ActOnInvitation resolves a pending group invitation. Only the invitee may
// act. Accept merges them into the roster with their horizon stamped now;
// either outcome deletes the invitation.
func (d *Directory) ActOnInvitation(ctx context.Context, invitationID, actor string, action domain.RequestAction) error {
	target, err := action.Status()
	if err != nil {
		return err
	}

	inv, err := d.db.GetInvitation(invitationID)
	if err != nil {
		return err
	}
	if inv == nil {
		return fmt.Errorf("%w: invitation %s", domain.ErrNotFound, invitationID)
	}
	if inv.InviteeID != actor {
		return fmt.Errorf("%w: only the invitee may act on an invitation", domain.ErrForbidden)
	}

	now := time.Now().UnixMilli()
	if target == domain.StatusAccepted {
		if err := d.db.AddGroupMember(&store.GroupMember{
			GroupID: inv.GroupID, UserID: actor, Role: domain.RoleMember, AddedAt: now,
		}); err != nil {
			return err
		}
		if err := d.db.EnsureConversation(inv.GroupID, "group", now,
			[]domain.Participant{{UserID: actor, JoinedAt: now}}); err != nil {
			return err
		}
		d.bus.Broadcast(domain.Event{
			Topic: domain.ConversationTopic(inv.GroupID),
			Kind:  domain.EventMemberJoined,
			At:    now,
			Payload: map[string]string{
				"conversationId": inv.GroupID,
				"userId":         actor,
			},
		})
		d.cache.InvalidatePrefix(ctx, cache.UserPrefix(actor))
	}
	return d.db.DeleteInvitation(inv.ID)
}

// AddMembers adds already-known users to a group roster. Creator-only.
// Users already in the roster are skipped, not restamped.
func (d *Directory) AddMembers(ctx context.Context, groupID, actor string, userIDs []string) ([]string, error) {
	if _, err := d.requireCreator(groupID, actor); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	var added []string
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		existing, err := d.db.GetGroupMember(groupID, userID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		if err := d.db.AddGroupMember(&store.GroupMember{
			GroupID: groupID, UserID: userID, Role: domain.RoleMember, AddedAt: now,
		}); err != nil {
			return nil, err
		}
		if err := d.db.EnsureConversation(groupID, "group", now,
			[]domain.Participant{{UserID: userID, JoinedAt: now}}); err != nil {
			return nil, err
		}
		added = append(added, userID)

		d.bus.Broadcast(domain.Event{
			Topic: domain.ConversationTopic(groupID),
			Kind:  domain.EventMemberJoined,
			At:    now,
			Payload: map[string]string{
				"conversationId": groupID,
				"userId":         userID,
			},
		})
		d.cache.InvalidatePrefix(ctx, cache.UserPrefix(userID))
	}
	return added, nil
}

// RemoveMembers removes users from a group roster. Creator-only; the creator
// and platform admins cannot be removed. A removed coadmin loses the role
// with the roster row.
func (d *Directory) RemoveMembers(ctx context.Context, groupID, actor string, userIDs []string) error {
	if _, err := d.requireCreator(groupID, actor); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, userID := range userIDs {
		if userID == actor {
			return fmt.Errorf("%w: the creator cannot be removed", domain.ErrValidation)
		}
		if d.guard.IsPlatformAdmin(userID) {
			return fmt.Errorf("%w: platform admins cannot be removed", domain.ErrForbidden)
		}
	}

	for _, userID := range userIDs {
		if err := d.db.RemoveGroupMember(groupID, userID); err != nil {
			return err
		}
		if err := d.db.RemoveParticipant(groupID, userID); err != nil {
			return err
		}
		d.bus.Broadcast(domain.Event{
			Topic: domain.ConversationTopic(groupID),
			Kind:  domain.EventMemberRemoved,
			At:    now,
			Payload: map[string]string{
				"conversationId": groupID,
				"userId":         userID,
			},
		})
		d.cache.InvalidatePrefix(ctx, cache.UserPrefix(userID))
	}
	d.cache.InvalidatePrefix(ctx, cache.ConversationPrefix(groupID))
	return nil
}

// PromoteCoAdmins flips existing members to the coadmin role. Creator-only.
func (d *Directory) PromoteCoAdmins(ctx context.Context, groupID, actor string, userIDs []string) error {
	if _, err := d.requireCreator(groupID, actor); err != nil {
		return err
	}

	for _, userID := range userIDs {
		m, err := d.db.GetGroupMember(groupID, userID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %s is not a member of group %s", domain.ErrValidation, userID, groupID)
		}
		if m.Role != domain.RoleMember {
			continue
		}
		if err := d.db.SetGroupMemberRole(groupID, userID, domain.RoleCoAdmin); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGroup removes a group and everything hanging off it: roster, pending
// invitations, the conversation, its messages and tombstones. Creator-only.
func (d *Directory) DeleteGroup(ctx context.Context, groupID, actor string) error {
	if _, err := d.requireCreator(groupID, actor); err != nil {
		return err
	}

	members, err := d.db.ListGroupMembers(groupID)
	if err != nil {
		return err
	}
	if err := d.db.DeleteGroup(groupID); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, m := range members {
		d.bus.Broadcast(domain.Event{
			Topic:   domain.UserTopic(m.UserID),
			Kind:    domain.EventConversationList,
			At:      now,
			Payload: map[string]string{"deletedConversationId": groupID},
		})
		d.cache.InvalidatePrefix(ctx, cache.UserPrefix(m.UserID))
	}
	d.cache.InvalidatePrefix(ctx, cache.ConversationPrefix(groupID))

	d.logger.Info("group deleted", zap.String("group_id", groupID), zap.String("actor", actor))
	return nil
}

// IsParticipant reports whether a user belongs to a conversation. The hub
// uses this as its subscribe gate.
func (d *Directory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return d.db.IsParticipant(conversationID, userID)
}

// PendingRequestsFor lists pending individual requests addressed to a user.
func (d *Directory) PendingRequestsFor(ctx context.Context, userID string) ([]store.ContactRequest, error) {
	return d.db.ListPendingRequestsFor(userID)
}

// InvitationsFor lists pending group invitations addressed to a user.
func (d *Directory) InvitationsFor(ctx context.Context, userID string) ([]store.Invitation, error) {
	return d.db.ListInvitationsFor(userID)
}

// GroupRoster returns the roster of a group.
func (d *Directory) GroupRoster(ctx context.Context, groupID string) ([]store.GroupMember, error) {
	g, err := d.db.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%w: group %s", domain.ErrNotFound, groupID)
	}
	return d.db.ListGroupMembers(groupID)
}

// Resolve maps a conversation key to its kind and participant set, for the
// ledger's lazy conversation creation. An individual key is an accepted
// request id; a group key is a group id.
func (d *Directory) Resolve(ctx context.Context, convKey string) (string, []domain.Participant, error) {
	req, err := d.db.GetContactRequest(convKey)
	if err != nil {
		return "", nil, err
	}
	if req != nil {
		if req.Status != domain.StatusAccepted {
			return "", nil, fmt.Errorf("%w: request %s is not accepted", domain.ErrInvalidState, convKey)
		}
		return "individual", []domain.Participant{
			{UserID: req.RequesterID, JoinedAt: req.ResolvedAt},
			{UserID: req.TargetID, JoinedAt: req.ResolvedAt},
		}, nil
	}

	g, err := d.db.GetGroup(convKey)
	if err != nil {
		return "", nil, err
	}
	if g == nil {
		return "", nil, fmt.Errorf("%w: no membership for key %s", domain.ErrNotFound, convKey)
	}
	members, err := d.db.ListGroupMembers(convKey)
	if err != nil {
		return "", nil, err
	}
	participants := make([]domain.Participant, len(members))
	for i, m := range members {
		participants[i] = domain.Participant{UserID: m.UserID, JoinedAt: m.AddedAt}
	}
	return "group", participants, nil
}

// connected reports whether two users may be grouped directly: an accepted
// individual request between them, or any shared group.
func (d *Directory) connected(a, b string) (bool, error) {
	req, err := d.db.RequestBetween(a, b, domain.StatusAccepted)
	if err != nil {
		return false, err
	}
	if req != nil {
		return true, nil
	}
	return d.db.SharedGroupExists(a, b)
}

func (d *Directory) requireCreator(groupID, actor string) (*store.Group, error) {
	g, err := d.db.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%w: group %s", domain.ErrNotFound, groupID)
	}
	if g.CreatorID != actor {
		return nil, fmt.Errorf("%w: only the group creator may do this", domain.ErrForbidden)
	}
	return g, nil
}

func (d *Directory) broadcastToPair(req *store.ContactRequest, kind domain.EventKind, at int64) {
	payload := map[string]string{
		"requestId": req.ID,
		"requester": req.RequesterID,
		"target":    req.TargetID,
	}
	d.bus.Broadcast(domain.Event{Topic: domain.UserTopic(req.RequesterID), Kind: kind, At: at, Payload: payload})
	d.bus.Broadcast(domain.Event{Topic: domain.UserTopic(req.TargetID), Kind: kind, At: at, Payload: payload})
}

func (d *Directory) enqueueNotification(userID, kind, payload string) {
	if err := d.db.EnqueueNotification(userID, kind, payload); err != nil {
		d.logger.Warn("failed to enqueue notification",
			zap.String("user_id", userID), zap.String("kind", kind), zap.Error(err))
	}
}
