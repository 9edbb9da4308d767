// Package visibility projects a conversation's raw message sequence into the
// subset one viewer is allowed to see. The resolver is pure: it reads a
// snapshot, never the database, so every rule is unit-testable in isolation.
package visibility

import (
	"sort"
	"strings"

	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/store"
)

// Filter narrows and pages the resolved set. Zero values mean "no filter":
// empty Search matches everything, Limit <= 0 disables pagination, and
// BeforeTS <= 0 starts from the newest message. The cursor is the last view
// of the previous page: with BeforeID set, messages sharing that timestamp
// but ordered after the cursor id still appear; without it the cut is
// timestamp-granular.
type Filter struct {
	Search   string
	Limit    int
	BeforeTS int64
	BeforeID string
}

// View is one message as a specific viewer sees it.
type View struct {
	ID        string             `json:"id"`
	SenderID  string             `json:"senderId"`
	Body      string             `json:"body"`
	MediaRef  string             `json:"mediaRef,omitempty"`
	Type      domain.MessageType `json:"type"`
	CreatedAt int64              `json:"createdAt"`
	IsEdited  bool               `json:"isEdited"`
	EditedAt  int64              `json:"editedAt,omitempty"`
	Direction domain.Direction   `json:"direction"`
}

// Resolve applies the three visibility rules in order, then search, then
// ordering, then pagination. Pagination runs over the final filtered ordering
// so page boundaries never shift when a hidden message sits between two
// visible ones.
func Resolve(snapshot *store.ConversationView, viewerID string, f Filter) []View {
	if snapshot == nil {
		return nil
	}

	visible := make([]View, 0, len(snapshot.Messages))
	search := strings.ToLower(f.Search)
	for i := range snapshot.Messages {
		m := &snapshot.Messages[i]
		if !Visible(snapshot, viewerID, m) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(m.Body), search) {
			continue
		}
		visible = append(visible, project(m, viewerID))
	}

	// Newest first; id breaks ties so equal timestamps order deterministically.
	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].CreatedAt != visible[j].CreatedAt {
			return visible[i].CreatedAt > visible[j].CreatedAt
		}
		return visible[i].ID > visible[j].ID
	})

	if f.BeforeTS > 0 {
		// The slice is ordered (createdAt desc, id desc), so "strictly after
		// the cursor" is a monotonic predicate.
		cut := sort.Search(len(visible), func(i int) bool {
			if visible[i].CreatedAt != f.BeforeTS {
				return visible[i].CreatedAt < f.BeforeTS
			}
			return f.BeforeID != "" && visible[i].ID < f.BeforeID
		})
		visible = visible[cut:]
	}
	if f.Limit > 0 && len(visible) > f.Limit {
		visible = visible[:f.Limit]
	}
	return visible
}

// Visible reports whether one message survives the viewer's visibility rules:
// not deleted for everyone, not tombstoned by this viewer, and not older than
// the viewer's join horizon (when one is recorded).
func Visible(snapshot *store.ConversationView, viewerID string, m *store.Message) bool {
	if m.Deleted != nil {
		return false
	}
	if snapshot.Tombstones[m.ID][viewerID] {
		return false
	}
	if horizon, ok := snapshot.JoinedAt[viewerID]; ok && m.CreatedAt < horizon {
		return false
	}
	return true
}

func project(m *store.Message, viewerID string) View {
	dir := domain.DirectionReceive
	if m.SenderID == viewerID {
		dir = domain.DirectionSend
	}
	return View{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		MediaRef:  m.MediaRef,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		Direction: dir,
	}
}
