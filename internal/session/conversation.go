// Package session implements the chat session core: one coordinator that
// owns the active conversation's message list, the per-conversation unread
// ledger, and the connection lifecycle, multiplexed over a single channel.
package session

import "time"

// Kind distinguishes the two chat target types.
type Kind int

const (
	KindPrivate Kind = iota // 1:1 conversation with a peer user
	KindGroup               // workspace-wide conversation
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "private"
}

// Handle identifies a chat target. Two handles are equal iff kind and id
// match; it is a comparable value type and is never mutated.
type Handle struct {
	Kind Kind
	ID   int
}

// PrivateHandle returns the handle for a 1:1 conversation with peer.
func PrivateHandle(peerID int) Handle { return Handle{Kind: KindPrivate, ID: peerID} }

// GroupHandle returns the handle for a group conversation.
func GroupHandle(groupID int) Handle { return Handle{Kind: KindGroup, ID: groupID} }

// Message is one entry of a conversation. Messages are immutable after
// creation; the active list is append-only within one activation.
type Message struct {
	SenderID int       `json:"senderId"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
	IsSelf   bool      `json:"isSelf"`
}

// Snapshot is the read-only view of session state handed to the UI layer.
type Snapshot struct {
	Status       Status
	Active       *Handle
	Messages     []Message
	UnreadCounts map[Handle]int
}

// Status mirrors the channel connection state for UI consumption.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}
