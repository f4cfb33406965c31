package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartnote-chat/internal/channel"
	"smartnote-chat/internal/identity"
)

var (
	// ErrNoActiveConversation is returned by SendMessage before any
	// conversation has been activated.
	ErrNoActiveConversation = errors.New("session: no active conversation")
	// ErrNotConnected is returned by SendMessage while the channel is not
	// in the Connected state.
	ErrNotConnected = errors.New("session: not connected")
)

// Channel is what the coordinator needs from the channel adapter.
type Channel interface {
	Connect(ctx context.Context)
	Disconnect()
	Invoke(ctx context.Context, method string, args any) error
}

// HistoryFetcher returns the persisted backlog for one conversation.
// Implementations normalize whatever field casing the backend uses; the
// coordinator only fills in IsSelf.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, h Handle) ([]Message, error)
}

// Config wires the coordinator's collaborators.
type Config struct {
	Log      *zap.Logger
	Identity *identity.Context
	History  HistoryFetcher
	// NewChannel builds the channel adapter with the coordinator's
	// callbacks. It is called at most once per coordinator, so handlers
	// can never be registered twice across reconnects.
	NewChannel func(channel.Callbacks) Channel
}

// Coordinator is the facade over the chat core. It owns the authoritative
// message list for the active conversation and the unread ledger, and it is
// the only writer of either: inbound events and public operations serialize
// on one mutex, so every handler body runs to completion alone.
type Coordinator struct {
	log        *zap.Logger
	identity   *identity.Context
	history    HistoryFetcher
	newChannel func(channel.Callbacks) Channel

	mu       sync.Mutex
	ch       Channel
	status   Status
	active   *Handle
	messages []Message
	unread   ledger
	userID   int
	fetchSeq uint64 // freshness guard for in-flight history fetches
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Coordinator{
		log:        cfg.Log,
		identity:   cfg.Identity,
		history:    cfg.History,
		newChannel: cfg.NewChannel,
		unread:     make(ledger),
	}
}

// Connect resolves the current user identity and drives the channel
// adapter's connect. Safe to call repeatedly; the underlying adapter treats
// connecting while connected as a no-op.
func (c *Coordinator) Connect(ctx context.Context) {
	c.mu.Lock()
	c.userID = c.identity.CurrentUserID()
	if c.ch == nil {
		c.ch = c.newChannel(channel.Callbacks{
			OnStatusChange: c.onStatusChange,
			OnEvent:        c.onEvent,
			OnAuthFailure:  c.onAuthFailure,
		})
	}
	ch := c.ch
	c.mu.Unlock()

	ch.Connect(ctx)
}

// Disconnect tears down the channel. It never fails.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch != nil {
		ch.Disconnect()
	}
}

// SwitchConversation activates h: clears the message list, zeroes h's
// unread counter, and loads the backlog. It is safe to call while a fetch
// for a previous handle is still outstanding; the stale result is discarded
// when it lands. The unread counter is re-zeroed after the fetch completes,
// so events filed for h during the fetch cannot leave a nonzero count.
func (c *Coordinator) SwitchConversation(ctx context.Context, h Handle) error {
	c.mu.Lock()
	active := h
	c.active = &active
	c.messages = nil
	c.unread.clear(h)
	c.fetchSeq++
	seq := c.fetchSeq
	userID := c.userID
	c.mu.Unlock()

	backlog, err := c.history.FetchHistory(ctx, h)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.fetchSeq || c.active == nil || *c.active != h {
		// A newer switch happened while this fetch was in flight; its
		// result must not clobber the newer conversation's view.
		return nil
	}
	if err != nil {
		c.log.Warn("history fetch failed",
			zap.String("kind", h.Kind.String()), zap.Int("id", h.ID), zap.Error(err))
		c.unread.clear(h)
		return fmt.Errorf("fetch history: %w", err)
	}
	for i := range backlog {
		backlog[i].IsSelf = backlog[i].SenderID == userID
	}
	// Events that arrived during the fetch were already appended for h;
	// keep them, in delivery order, after the backlog.
	c.messages = append(backlog, c.messages...)
	c.unread.clear(h)
	return nil
}

// SendMessage dispatches content to the active conversation. Private
// messages are appended optimistically before the dispatch; a dispatch
// error propagates to the caller with the optimistic entry left in place.
// Group messages are not appended locally; the server broadcasts them back
// to all participants, sender included.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}
	if c.status != Connected || c.ch == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	h := *c.active
	ch := c.ch
	if h.Kind == KindPrivate {
		c.messages = append(c.messages, Message{
			SenderID: c.userID,
			Content:  content,
			SentAt:   time.Now(),
			IsSelf:   true,
		})
	}
	c.mu.Unlock()

	method := channel.MethodSendPrivate
	if h.Kind == KindGroup {
		method = channel.MethodSendGroup
	}
	if err := ch.Invoke(ctx, method, channel.SendArgs{TargetID: h.ID, Content: content}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the session state for the UI layer.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Status:       c.status,
		Messages:     append([]Message(nil), c.messages...),
		UnreadCounts: c.unread.snapshot(),
	}
	if c.active != nil {
		h := *c.active
		snap.Active = &h
	}
	return snap
}

func (c *Coordinator) onStatusChange(s channel.Status) {
	c.mu.Lock()
	c.status = statusFromChannel(s)
	c.mu.Unlock()
}

// onEvent files one inbound event. It runs on the adapter's read goroutine,
// preserving transport delivery order.
func (c *Coordinator) onEvent(ev channel.InboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	isSelf := ev.SenderID == c.userID

	var h Handle
	switch ev.Kind {
	case channel.EventPrivateMessage:
		// A private conversation is identified by its counterpart: the
		// sender, unless this is our own message echoed back from another
		// device, in which case the target names the conversation.
		peer := ev.SenderID
		if isSelf && ev.TargetID != 0 {
			peer = ev.TargetID
		}
		h = PrivateHandle(peer)
	case channel.EventGroupMessage:
		h = GroupHandle(ev.GroupID)
	default:
		return
	}

	switch route(h, c.active, isSelf) {
	case routeAppend:
		c.messages = append(c.messages, Message{
			SenderID: ev.SenderID,
			Content:  ev.Content,
			SentAt:   ev.SentAt,
			IsSelf:   isSelf,
		})
	case routeFile:
		c.unread.file(h)
	case routeDrop:
		// Self-originated event for a non-active conversation, e.g. sent
		// from another device. It was never shown locally and must not
		// count as unread.
	}
}

// onAuthFailure clears the stored credential and cached profile and fires
// the forced-logout hook. Only transport-level authorization signals reach
// this point; ordinary send failures never do.
func (c *Coordinator) onAuthFailure(err error) {
	c.log.Warn("authorization failure, forcing reauthentication", zap.Error(err))
	c.identity.ForceLogout()
}

func statusFromChannel(s channel.Status) Status {
	switch s {
	case channel.StatusConnecting:
		return Connecting
	case channel.StatusConnected:
		return Connected
	case channel.StatusReconnecting:
		return Reconnecting
	default:
		return Disconnected
	}
}
