package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/converse-chat/converse/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + notification outbox)", result.Version)
	}
}

func TestContactRequestLifecycle(t *testing.T) {
	db := testDB(t)

	r := &ContactRequest{ID: "r1", RequesterID: "alice", TargetID: "bob", CreatedAt: 1000}
	if err := db.CreateContactRequest(r); err != nil {
		t.Fatal(err)
	}

	// Pending lookup works in both directions.
	got, err := db.RequestBetween("bob", "alice", domain.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "r1" {
		t.Fatalf("RequestBetween = %v, want r1", got)
	}

	if err := db.MarkRequestAccepted("r1", 2000); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetContactRequest("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusAccepted || got.ResolvedAt != 2000 {
		t.Errorf("after accept: status=%s resolved=%d", got.Status, got.ResolvedAt)
	}

	// Rejected rows are deleted, not retained.
	if err := db.DeleteContactRequest("r1"); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetContactRequest("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("deleted request still present")
	}
}

func TestDuplicatePendingRequestRejectedBySchema(t *testing.T) {
	db := testDB(t)

	r := &ContactRequest{ID: "r1", RequesterID: "alice", TargetID: "bob", CreatedAt: 1000}
	if err := db.CreateContactRequest(r); err != nil {
		t.Fatal(err)
	}

	// A second pending request between the pair fails at the schema, in
	// either direction, so a racing insert cannot slip past the service.
	same := &ContactRequest{ID: "r2", RequesterID: "alice", TargetID: "bob", CreatedAt: 1001}
	if err := db.CreateContactRequest(same); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("duplicate err = %v, want ErrInvalidState", err)
	}
	reversed := &ContactRequest{ID: "r3", RequesterID: "bob", TargetID: "alice", CreatedAt: 1002}
	if err := db.CreateContactRequest(reversed); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("reversed duplicate err = %v, want ErrInvalidState", err)
	}

	// The index only covers pending rows: once resolved, the pair is free
	// to open a new request.
	if err := db.MarkRequestAccepted("r1", 2000); err != nil {
		t.Fatal(err)
	}
	again := &ContactRequest{ID: "r4", RequesterID: "bob", TargetID: "alice", CreatedAt: 3000}
	if err := db.CreateContactRequest(again); err != nil {
		t.Errorf("request after resolution = %v, want nil", err)
	}
}

func TestGroupCreateAndRoster(t *testing.T) {
	db := testDB(t)

	g := &Group{ID: "g1", CreatorID: "kate", Name: "team", CreatedAt: 1000}
	members := []GroupMember{
		{GroupID: "g1", UserID: "kate", Role: domain.RoleCreator, AddedAt: 1000},
		{GroupID: "g1", UserID: "paul", Role: domain.RoleMember, AddedAt: 1000},
	}
	invites := []Invitation{{ID: "i1", GroupID: "g1", InviteeID: "quinn", CreatedAt: 1000}}
	if err := db.CreateGroup(g, members, invites); err != nil {
		t.Fatal(err)
	}

	roster, err := db.ListGroupMembers("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 2 {
		t.Fatalf("got %d members, want 2", len(roster))
	}

	shared, err := db.SharedGroupExists("kate", "paul")
	if err != nil {
		t.Fatal(err)
	}
	if !shared {
		t.Error("SharedGroupExists(kate, paul) = false, want true")
	}

	invs, err := db.ListInvitationsFor("quinn")
	if err != nil {
		t.Fatal(err)
	}
	if len(invs) != 1 || invs[0].ID != "i1" {
		t.Fatalf("invitations = %v, want [i1]", invs)
	}
}

func TestAddGroupMemberKeepsOriginalStamp(t *testing.T) {
	db := testDB(t)

	if err := db.CreateGroup(&Group{ID: "g1", CreatorID: "kate", Name: "team", CreatedAt: 1000},
		[]GroupMember{{GroupID: "g1", UserID: "kate", Role: domain.RoleCreator, AddedAt: 1000}}, nil); err != nil {
		t.Fatal(err)
	}

	if err := db.AddGroupMember(&GroupMember{GroupID: "g1", UserID: "paul", Role: domain.RoleMember, AddedAt: 2000}); err != nil {
		t.Fatal(err)
	}
	// Re-adding must not rewrite the original added_at.
	if err := db.AddGroupMember(&GroupMember{GroupID: "g1", UserID: "paul", Role: domain.RoleMember, AddedAt: 9000}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetGroupMember("g1", "paul")
	if err != nil {
		t.Fatal(err)
	}
	if m.AddedAt != 2000 {
		t.Errorf("added_at = %d, want 2000 (original stamp)", m.AddedAt)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	db := testDB(t)

	if err := db.CreateGroup(&Group{ID: "g1", CreatorID: "kate", Name: "team", CreatedAt: 1000},
		[]GroupMember{{GroupID: "g1", UserID: "kate", Role: domain.RoleCreator, AddedAt: 1000}},
		[]Invitation{{ID: "i1", GroupID: "g1", InviteeID: "quinn", CreatedAt: 1000}}); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureConversation("g1", "group", 1000,
		[]domain.Participant{{UserID: "kate", JoinedAt: 1000}}); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(&Message{ID: "m1", ConversationID: "g1", SenderID: "kate", Body: "hi", Type: domain.TypeText, CreatedAt: 1100}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteGroup("g1"); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation("g1")
	if err != nil {
		t.Fatal(err)
	}
	if conv != nil {
		t.Error("conversation survived group deletion")
	}
	msgs, err := db.ListMessages("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after cascade, want 0", len(msgs))
	}
	invs, err := db.ListInvitationsFor("quinn")
	if err != nil {
		t.Fatal(err)
	}
	if len(invs) != 0 {
		t.Errorf("got %d invitations after cascade, want 0", len(invs))
	}
}

func TestEnsureConversationIdempotent(t *testing.T) {
	db := testDB(t)

	parts := []domain.Participant{{UserID: "alice", JoinedAt: 1000}, {UserID: "bob", JoinedAt: 1000}}
	if err := db.EnsureConversation("c1", "individual", 1000, parts); err != nil {
		t.Fatal(err)
	}
	// Second call with a different stamp must not rewrite horizons.
	if err := db.EnsureConversation("c1", "individual", 9000,
		[]domain.Participant{{UserID: "alice", JoinedAt: 9000}}); err != nil {
		t.Fatal(err)
	}

	view, err := db.LoadConversationView("c1")
	if err != nil {
		t.Fatal(err)
	}
	if view.JoinedAt["alice"] != 1000 {
		t.Errorf("joined_at = %d, want 1000 (original stamp)", view.JoinedAt["alice"])
	}
	if len(view.JoinedAt) != 2 {
		t.Errorf("got %d participants, want 2", len(view.JoinedAt))
	}
}

func TestAdvanceLastReadMonotonic(t *testing.T) {
	db := testDB(t)

	if err := db.EnsureConversation("c1", "individual", 1000,
		[]domain.Participant{{UserID: "alice", JoinedAt: 1000}}); err != nil {
		t.Fatal(err)
	}

	if err := db.AdvanceLastRead("c1", "alice", 5000); err != nil {
		t.Fatal(err)
	}
	// An older timestamp must not rewind the marker.
	if err := db.AdvanceLastRead("c1", "alice", 3000); err != nil {
		t.Fatal(err)
	}

	view, err := db.LoadConversationView("c1")
	if err != nil {
		t.Fatal(err)
	}
	if view.LastReadAt["alice"] != 5000 {
		t.Errorf("last_read_at = %d, want 5000", view.LastReadAt["alice"])
	}
}

func TestTombstoneIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.EnsureConversation("c1", "individual", 1000, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(&Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "hi", Type: domain.TypeText, CreatedAt: 1100}); err != nil {
		t.Fatal(err)
	}

	inserted, err := db.AddTombstone("m1", "bob", 2000)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first AddTombstone reported existing tuple")
	}

	inserted, err = db.AddTombstone("m1", "bob", 3000)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second AddTombstone created a duplicate tuple")
	}
}

func TestMarkDeletedForEveryoneIsTerminal(t *testing.T) {
	db := testDB(t)

	if err := db.EnsureConversation("c1", "individual", 1000, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(&Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "secret", MediaRef: "blob://x", Type: domain.TypeImage, CreatedAt: 1100}); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkDeletedForEveryone("c1", []string{"m1"}, "alice", 2000); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("c1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Deleted == nil {
		t.Fatal("message not marked deleted")
	}
	if m.Deleted.By != "alice" || m.Deleted.At != 2000 {
		t.Errorf("deletion mark = %+v", m.Deleted)
	}
	if m.Body != domain.TombstoneBody {
		t.Errorf("body = %q, want tombstone marker", m.Body)
	}
	if m.MediaRef != "" {
		t.Errorf("media_ref = %q, want cleared", m.MediaRef)
	}

	// A second pass must not restamp the deletion.
	if err := db.MarkDeletedForEveryone("c1", []string{"m1"}, "bob", 9000); err != nil {
		t.Fatal(err)
	}
	m, _ = db.GetMessage("c1", "m1")
	if m.Deleted.By != "alice" || m.Deleted.At != 2000 {
		t.Errorf("deletion restamped: %+v", m.Deleted)
	}
}

func TestNotificationOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueNotification("bob", "newMessage", `{"conversationId":"c1"}`); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingNotifications()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].UserID != "bob" {
		t.Errorf("user_id = %q, want bob", pending[0].UserID)
	}

	if err := db.MarkNotificationSending(pending[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkNotificationSent(pending[0].ID); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingNotifications()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}
