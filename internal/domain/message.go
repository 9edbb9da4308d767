package domain

import "fmt"

// MessageType distinguishes plain text from media-bearing messages.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeFile  MessageType = "file"
)

// TombstoneBody replaces the content of a message deleted for everyone.
const TombstoneBody = "This message was deleted"

// DeletionMark is the terminal "deleted for everyone" variant. A nil mark
// means the message is active. Once set the message is immutable: no further
// edit or delete is accepted.
type DeletionMark struct {
	By string
	At int64
}

// DeleteScope selects between the two independent deletion mechanisms.
type DeleteScope string

const (
	// ScopeMe records a per-viewer tombstone; other participants still see
	// the message.
	ScopeMe DeleteScope = "me"
	// ScopeEveryone tombstones the message globally. Allowed only for fully
	// self-authored, non-deleted target sets.
	ScopeEveryone DeleteScope = "everyone"
)

// ParseScope validates a wire-level scope string.
func ParseScope(s string) (DeleteScope, error) {
	switch DeleteScope(s) {
	case ScopeMe:
		return ScopeMe, nil
	case ScopeEveryone:
		return ScopeEveryone, nil
	default:
		return "", fmt.Errorf("%w: unknown delete scope %q", ErrValidation, s)
	}
}

// Direction tells a viewer whether they authored a message.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)
