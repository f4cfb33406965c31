package chat

import (
	"encoding/json"
	"time"
)

// Database models.

type Conversation struct {
	ID        int       `json:"id"`
	Type      string    `json:"type"` // 'private' or 'group'
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Wire protocol. This mirrors the frame layout the client adapter speaks:
// invokes carry ID/Method/Args, results carry ID/Error, events carry Event
// plus the message fields.

const (
	FrameInvoke = "invoke"
	FrameResult = "result"
	FrameEvent  = "event"

	EventPrivateMessage = "private_message"
	EventGroupMessage   = "group_message"

	MethodSendPrivate = "send_private"
	MethodSendGroup   = "send_group"
)

type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Error  string          `json:"error,omitempty"`

	Event    string    `json:"event,omitempty"`
	SenderID int       `json:"senderId,omitempty"`
	TargetID int       `json:"targetId,omitempty"` // private events: the other party
	GroupID  int       `json:"groupId,omitempty"`
	Content  string    `json:"content,omitempty"`
	SentAt   time.Time `json:"sentAt,omitempty"`
}

// SendArgs is the payload of the send_private and send_group invokes.
type SendArgs struct {
	TargetID int    `json:"targetId"`
	Content  string `json:"content"`
}

// envelope is what instances exchange over Redis: a routed event frame plus
// the user ids it should be delivered to.
type envelope struct {
	Recipients []int `json:"recipients"`
	Frame      Frame `json:"frame"`
}

// invocation pairs an invoke frame with the connection it arrived on, so
// the hub can reply with a result frame.
type invocation struct {
	client *Client
	frame  Frame
}
