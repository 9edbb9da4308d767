package domain

import (
	"fmt"
	"slices"
)

// RequestStatus is the lifecycle state of an individual chat request or a
// group invitation. Rejected records are deleted rather than retained, so
// Rejected never appears in storage; it exists only as a transition target.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// validTransitions defines allowed request lifecycle transitions.
// Accepted and Rejected are terminal.
var validTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {},
	StatusRejected: {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to RequestStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// Transition validates a status change, returning ErrInvalidState for moves
// out of a terminal state.
func Transition(from, to RequestStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition request from %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

// RequestAction is what an actor does to a pending request or invitation.
type RequestAction string

const (
	ActionAccept RequestAction = "accept"
	ActionReject RequestAction = "reject"
)

// Status returns the lifecycle status an action resolves to.
func (a RequestAction) Status() (RequestStatus, error) {
	switch a {
	case ActionAccept:
		return StatusAccepted, nil
	case ActionReject:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, string(a))
	}
}

// GroupRole is a member's role within a group roster.
type GroupRole string

const (
	RoleCreator GroupRole = "creator"
	RoleCoAdmin GroupRole = "coadmin"
	RoleMember  GroupRole = "member"
)
