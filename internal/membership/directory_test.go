package membership

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/converse-chat/converse/internal/cache"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/entitle"
	"github.com/converse-chat/converse/internal/store"
	"go.uber.org/zap"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeBroadcaster) Broadcast(evt domain.Event) {
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) kinds() []domain.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventKind, len(f.events))
	for i, e := range f.events {
		out[i] = e.Kind
	}
	return out
}

func testDirectory(t *testing.T, adminIDs ...string) (*Directory, *store.DB, *fakeBroadcaster) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := &fakeBroadcaster{}
	d := NewDirectory(db, entitle.NewStatic(adminIDs), b, cache.NewMemory(), zap.NewNop())
	return d, db, b
}

func connect(t *testing.T, d *Directory, a, b string) string {
	t.Helper()
	ctx := context.Background()
	req, err := d.SendRequest(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ActOnRequest(ctx, req.ID, b, domain.ActionAccept); err != nil {
		t.Fatal(err)
	}
	return req.ID
}

func TestSendRequestRejectsSelfAndDuplicates(t *testing.T) {
	d, _, _ := testDirectory(t)
	ctx := context.Background()

	if _, err := d.SendRequest(ctx, "alice", "alice"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("self-request err = %v, want ErrValidation", err)
	}

	if _, err := d.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	// A second pending request between the pair, in either direction, is an
	// invalid state.
	if _, err := d.SendRequest(ctx, "alice", "bob"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("duplicate err = %v, want ErrInvalidState", err)
	}
	if _, err := d.SendRequest(ctx, "bob", "alice"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("reverse duplicate err = %v, want ErrInvalidState", err)
	}
}

func TestActOnRequestTargetOnly(t *testing.T) {
	d, _, _ := testDirectory(t)
	ctx := context.Background()

	req, err := d.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	if err := d.ActOnRequest(ctx, req.ID, "alice", domain.ActionAccept); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("requester accept err = %v, want ErrForbidden", err)
	}
	if err := d.ActOnRequest(ctx, "no-such-id", "bob", domain.ActionAccept); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing request err = %v, want ErrNotFound", err)
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	d, db, bc := testDirectory(t)
	ctx := context.Background()

	req, err := d.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ActOnRequest(ctx, req.ID, "bob", domain.ActionAccept); err != nil {
		t.Fatal(err)
	}

	view, err := db.LoadConversationView(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	firstStamp := view.JoinedAt["alice"]

	// Repeat accept: success, no restamp, no extra events.
	before := len(bc.kinds())
	if err := d.ActOnRequest(ctx, req.ID, "bob", domain.ActionAccept); err != nil {
		t.Fatalf("repeated accept = %v, want nil", err)
	}
	if got := len(bc.kinds()); got != before {
		t.Errorf("repeated accept emitted %d extra events", got-before)
	}

	view, _ = db.LoadConversationView(req.ID)
	if view.JoinedAt["alice"] != firstStamp {
		t.Errorf("joined_at restamped: %d -> %d", firstStamp, view.JoinedAt["alice"])
	}
}

func TestRejectDeletesRequest(t *testing.T) {
	d, db, _ := testDirectory(t)
	ctx := context.Background()

	req, err := d.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ActOnRequest(ctx, req.ID, "bob", domain.ActionReject); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetContactRequest(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("rejected request retained")
	}

	// The pair can try again after a rejection.
	if _, err := d.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Errorf("re-request after reject = %v, want nil", err)
	}
}

func TestCreateGroupPartitionsCandidates(t *testing.T) {
	d, _, _ := testDirectory(t, "root")
	ctx := context.Background()

	connect(t, d, "kate", "paul")

	res, err := d.CreateGroup(ctx, "kate", "team", "", []string{"paul", "quinn"})
	if err != nil {
		t.Fatal(err)
	}

	roles := map[string]domain.GroupRole{}
	for _, m := range res.Members {
		roles[m.UserID] = m.Role
	}
	if roles["kate"] != domain.RoleCreator {
		t.Errorf("kate role = %s, want creator", roles["kate"])
	}
	if roles["paul"] != domain.RoleMember {
		t.Errorf("paul (connected) role = %s, want member", roles["paul"])
	}
	// Platform admins join every group without being named.
	if roles["root"] != domain.RoleMember {
		t.Errorf("root (admin) role = %s, want member", roles["root"])
	}

	if len(res.Invitations) != 1 || res.Invitations[0].InviteeID != "quinn" {
		t.Fatalf("invitations = %v, want one for quinn", res.Invitations)
	}
}

func TestActOnInvitationMergesRoster(t *testing.T) {
	d, db, _ := testDirectory(t)
	ctx := context.Background()

	res, err := d.CreateGroup(ctx, "kate", "team", "", []string{"quinn"})
	if err != nil {
		t.Fatal(err)
	}
	inv := res.Invitations[0]

	if err := d.ActOnInvitation(ctx, inv.ID, "kate", domain.ActionAccept); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-invitee err = %v, want ErrForbidden", err)
	}

	if err := d.ActOnInvitation(ctx, inv.ID, "quinn", domain.ActionAccept); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetGroupMember(res.Group.ID, "quinn")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Role != domain.RoleMember {
		t.Fatalf("quinn roster entry = %v", m)
	}
	// Horizon stamped at acceptance, so pre-accept history stays hidden.
	if m.AddedAt < res.Group.CreatedAt {
		t.Errorf("added_at %d predates group creation %d", m.AddedAt, res.Group.CreatedAt)
	}

	invs, _ := db.ListInvitationsFor("quinn")
	if len(invs) != 0 {
		t.Error("invitation survived acceptance")
	}
}

func TestRemoveMembersGuards(t *testing.T) {
	d, db, _ := testDirectory(t, "root")
	ctx := context.Background()

	connect(t, d, "kate", "paul")
	res, err := d.CreateGroup(ctx, "kate", "team", "", []string{"paul"})
	if err != nil {
		t.Fatal(err)
	}
	gid := res.Group.ID

	if err := d.RemoveMembers(ctx, gid, "paul", []string{"kate"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-creator removal err = %v, want ErrForbidden", err)
	}
	if err := d.RemoveMembers(ctx, gid, "kate", []string{"kate"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("creator self-removal err = %v, want ErrValidation", err)
	}
	if err := d.RemoveMembers(ctx, gid, "kate", []string{"root"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("admin removal err = %v, want ErrForbidden", err)
	}

	if err := d.RemoveMembers(ctx, gid, "kate", []string{"paul"}); err != nil {
		t.Fatal(err)
	}
	m, _ := db.GetGroupMember(gid, "paul")
	if m != nil {
		t.Error("paul still in roster after removal")
	}
	in, _ := db.IsParticipant(gid, "paul")
	if in {
		t.Error("paul still in participant mirror after removal")
	}
}

func TestPromoteCoAdmins(t *testing.T) {
	d, db, _ := testDirectory(t)
	ctx := context.Background()

	connect(t, d, "kate", "paul")
	res, err := d.CreateGroup(ctx, "kate", "team", "", []string{"paul"})
	if err != nil {
		t.Fatal(err)
	}
	gid := res.Group.ID

	if err := d.PromoteCoAdmins(ctx, gid, "paul", []string{"paul"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-creator promote err = %v, want ErrForbidden", err)
	}
	if err := d.PromoteCoAdmins(ctx, gid, "kate", []string{"stranger"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("promote non-member err = %v, want ErrValidation", err)
	}

	if err := d.PromoteCoAdmins(ctx, gid, "kate", []string{"paul"}); err != nil {
		t.Fatal(err)
	}
	m, _ := db.GetGroupMember(gid, "paul")
	if m.Role != domain.RoleCoAdmin {
		t.Errorf("paul role = %s, want coadmin", m.Role)
	}
}

func TestDeleteGroupCreatorOnly(t *testing.T) {
	d, db, _ := testDirectory(t)
	ctx := context.Background()

	connect(t, d, "kate", "paul")
	res, err := d.CreateGroup(ctx, "kate", "team", "", []string{"paul"})
	if err != nil {
		t.Fatal(err)
	}
	gid := res.Group.ID

	if err := d.DeleteGroup(ctx, gid, "paul"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-creator delete err = %v, want ErrForbidden", err)
	}
	if err := d.DeleteGroup(ctx, gid, "kate"); err != nil {
		t.Fatal(err)
	}

	g, _ := db.GetGroup(gid)
	if g != nil {
		t.Error("group survived deletion")
	}
	conv, _ := db.GetConversation(gid)
	if conv != nil {
		t.Error("conversation survived group deletion")
	}
}

func TestResolveMapsKeysToParticipants(t *testing.T) {
	d, _, _ := testDirectory(t)
	ctx := context.Background()

	reqID := connect(t, d, "alice", "bob")
	kind, parts, err := d.Resolve(ctx, reqID)
	if err != nil {
		t.Fatal(err)
	}
	if kind != "individual" || len(parts) != 2 {
		t.Errorf("Resolve(request) = %s/%d participants", kind, len(parts))
	}

	res, err := d.CreateGroup(ctx, "kate", "team", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	kind, parts, err = d.Resolve(ctx, res.Group.ID)
	if err != nil {
		t.Fatal(err)
	}
	if kind != "group" || len(parts) != 1 {
		t.Errorf("Resolve(group) = %s/%d participants", kind, len(parts))
	}

	if _, _, err := d.Resolve(ctx, "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Resolve(unknown) err = %v, want ErrNotFound", err)
	}
}
