package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const fanoutChannel = "chat-events"

// Store is what the hub needs from the chat repository.
type Store interface {
	FindOrCreatePrivateConversation(ctx context.Context, a, b int) (int, error)
	IsParticipant(ctx context.Context, conversationID, userID int) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID int) ([]int, error)
	SaveMessage(ctx context.Context, conversationID, senderID int, content string) (time.Time, error)
}

// Hub routes invokes to conversations and fans events out to the right
// connections. All shared state lives behind the Run loop: it is the only
// goroutine that touches h.clients. Cross-instance delivery goes through a
// Redis pub/sub channel; with a nil Redis client the hub delivers locally,
// which keeps single-instance deployments and tests free of the dependency.
type Hub struct {
	log     *zap.Logger
	clients map[int]map[*Client]bool // connections per user id

	Register   chan *Client
	Unregister chan *Client
	Invoke     chan invocation
	deliver    chan envelope

	redis *redis.Client
	store Store
}

func NewHub(log *zap.Logger, redisClient *redis.Client, store Store) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[int]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Invoke:     make(chan invocation),
		deliver:    make(chan envelope, 64),
		redis:      redisClient,
		store:      store,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			conns := h.clients[client.userID]
			if conns == nil {
				conns = make(map[*Client]bool)
				h.clients[client.userID] = conns
			}
			conns[client] = true

		case client := <-h.Unregister:
			if conns, ok := h.clients[client.userID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}

		case inv := <-h.Invoke:
			h.handleInvoke(inv)

		case env := <-h.deliver:
			h.deliverLocal(env)
		}
	}
}

// SubscribeToRedis feeds fan-out envelopes published by any instance
// (including this one) into the delivery path.
func (h *Hub) SubscribeToRedis() {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(context.Background(), fanoutChannel)
	ch := pubsub.Channel()

	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.log.Warn("malformed fanout payload", zap.Error(err))
			continue
		}
		h.deliver <- env
	}
}

func (h *Hub) handleInvoke(inv invocation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var args SendArgs
	if err := json.Unmarshal(inv.frame.Args, &args); err != nil {
		h.reply(inv, "malformed arguments")
		return
	}
	if args.Content == "" {
		h.reply(inv, "empty message")
		return
	}

	switch inv.frame.Method {
	case MethodSendPrivate:
		convID, err := h.store.FindOrCreatePrivateConversation(ctx, inv.client.userID, args.TargetID)
		if err != nil {
			h.log.Error("resolve private conversation", zap.Error(err))
			h.reply(inv, "could not resolve conversation")
			return
		}
		sentAt, err := h.store.SaveMessage(ctx, convID, inv.client.userID, args.Content)
		if err != nil {
			h.log.Error("persist message", zap.Error(err))
			h.reply(inv, "could not persist message")
			return
		}
		h.reply(inv, "")
		h.fanout(envelope{
			Recipients: []int{args.TargetID, inv.client.userID},
			Frame: Frame{
				Type:     FrameEvent,
				Event:    EventPrivateMessage,
				SenderID: inv.client.userID,
				TargetID: args.TargetID,
				Content:  args.Content,
				SentAt:   sentAt,
			},
		})

	case MethodSendGroup:
		ok, err := h.store.IsParticipant(ctx, args.TargetID, inv.client.userID)
		if err != nil {
			h.log.Error("participant lookup", zap.Error(err))
			h.reply(inv, "could not resolve conversation")
			return
		}
		if !ok {
			h.reply(inv, "not a participant of this conversation")
			return
		}
		recipients, err := h.store.ParticipantIDs(ctx, args.TargetID)
		if err != nil {
			h.log.Error("participant list", zap.Error(err))
			h.reply(inv, "could not resolve participants")
			return
		}
		sentAt, err := h.store.SaveMessage(ctx, args.TargetID, inv.client.userID, args.Content)
		if err != nil {
			h.log.Error("persist message", zap.Error(err))
			h.reply(inv, "could not persist message")
			return
		}
		h.reply(inv, "")
		h.fanout(envelope{
			Recipients: recipients,
			Frame: Frame{
				Type:     FrameEvent,
				Event:    EventGroupMessage,
				GroupID:  args.TargetID,
				SenderID: inv.client.userID,
				Content:  args.Content,
				SentAt:   sentAt,
			},
		})

	default:
		h.reply(inv, "unknown method "+inv.frame.Method)
	}
}

// reply sends a result frame back to the connection the invoke came in on.
func (h *Hub) reply(inv invocation, errText string) {
	payload, err := json.Marshal(Frame{Type: FrameResult, ID: inv.frame.ID, Error: errText})
	if err != nil {
		return
	}
	select {
	case inv.client.send <- payload:
	default:
		// Slow consumer; the write pump will notice the closed socket.
	}
}

func (h *Hub) fanout(env envelope) {
	if h.redis == nil {
		h.deliverLocal(env)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode fanout envelope", zap.Error(err))
		return
	}
	if err := h.redis.Publish(context.Background(), fanoutChannel, payload).Err(); err != nil {
		h.log.Error("redis publish", zap.Error(err))
	}
}

func (h *Hub) deliverLocal(env envelope) {
	payload, err := json.Marshal(env.Frame)
	if err != nil {
		return
	}
	for _, userID := range env.Recipients {
		for client := range h.clients[userID] {
			select {
			case client.send <- payload:
			default:
				close(client.send)
				delete(h.clients[userID], client)
			}
		}
	}
}
