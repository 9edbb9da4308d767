// Package entitle answers permission questions for the conversation core.
// The core consults the guard before mutations and never writes through it,
// so entitlement state can live elsewhere without coupling.
package entitle

// Guard is the read-only entitlement surface the core depends on.
type Guard interface {
	// MaySend reports whether a user may author messages at all.
	MaySend(userID string) bool
	// IsPlatformAdmin reports platform-level admin status. Platform admins
	// are auto-added to every group and cannot be removed from rosters.
	IsPlatformAdmin(userID string) bool
	// AdminIDs enumerates the platform admins, for the group auto-add.
	AdminIDs() []string
}

// Static is a Guard built from a fixed admin list, typically the daemon
// config. Everyone may send; only listed ids are admins.
type Static struct {
	admins map[string]bool
}

func NewStatic(adminIDs []string) *Static {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Static{admins: admins}
}

func (s *Static) MaySend(string) bool { return true }

func (s *Static) IsPlatformAdmin(userID string) bool { return s.admins[userID] }

// AdminIDs returns the configured admin set in no particular order.
func (s *Static) AdminIDs() []string {
	out := make([]string, 0, len(s.admins))
	for id := range s.admins {
		out = append(out, id)
	}
	return out
}
