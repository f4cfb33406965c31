package channel

import (
	"encoding/json"
	"time"
)

// Frame type discriminators on the wire.
const (
	frameInvoke = "invoke"
	frameResult = "result"
	frameEvent  = "event"
)

// Wire names for server-pushed events.
const (
	wireEventPrivateMessage = "private_message"
	wireEventGroupMessage   = "group_message"
)

// Wire names for client invokes.
const (
	MethodSendPrivate = "send_private"
	MethodSendGroup   = "send_group"
)

// frame is the single JSON envelope exchanged over the websocket. Invokes
// carry ID/Method/Args, results carry ID/Error, events carry Event plus the
// message fields.
type frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Error  string          `json:"error,omitempty"`

	Event    string    `json:"event,omitempty"`
	SenderID int       `json:"senderId,omitempty"`
	TargetID int       `json:"targetId,omitempty"`
	GroupID  int       `json:"groupId,omitempty"`
	Content  string    `json:"content,omitempty"`
	SentAt   time.Time `json:"sentAt,omitempty"`
}

// EventKind is the closed enumeration of inbound event kinds. Unknown wire
// event names never surface past the decoder.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPrivateMessage
	EventGroupMessage
)

func (k EventKind) String() string {
	switch k {
	case EventPrivateMessage:
		return "private_message"
	case EventGroupMessage:
		return "group_message"
	default:
		return "unknown"
	}
}

// InboundEvent is a decoded server push.
type InboundEvent struct {
	Kind     EventKind
	SenderID int
	TargetID int // set only for EventPrivateMessage: the other party
	GroupID  int // set only for EventGroupMessage
	Content  string
	SentAt   time.Time
}

// decodeEvent maps a wire event frame onto the closed event enumeration.
// The second return value is false for event names this client does not know.
func decodeEvent(f frame) (InboundEvent, bool) {
	ev := InboundEvent{
		SenderID: f.SenderID,
		Content:  f.Content,
		SentAt:   f.SentAt,
	}
	switch f.Event {
	case wireEventPrivateMessage:
		ev.Kind = EventPrivateMessage
		ev.TargetID = f.TargetID
	case wireEventGroupMessage:
		ev.Kind = EventGroupMessage
		ev.GroupID = f.GroupID
	default:
		return InboundEvent{}, false
	}
	return ev, true
}

// SendArgs is the payload of the send_private and send_group invokes.
type SendArgs struct {
	TargetID int    `json:"targetId"`
	Content  string `json:"content"`
}
