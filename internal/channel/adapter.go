// Package channel owns the single long-lived websocket connection to the
// chat backend. It translates transport callbacks into three abstract
// signals (status changes, decoded inbound events, auth failures) and keeps
// every transport error on its own side of the boundary: callers never see
// a raw read/teardown error, only state transitions.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second // time allowed to write a frame to the server
	pingWait  = 90 * time.Second // server pings every ~54s; allow one miss
)

// ErrNotConnected is returned by Invoke when the channel is not in the
// Connected state.
var ErrNotConnected = errors.New("channel: not connected")

// Status is the connection state machine. Transitions:
// Disconnected -> Connecting -> Connected -> Reconnecting -> Connected,
// with Disconnected reachable from any state via Disconnect, reconnect
// exhaustion, or an auth failure.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Callbacks are registered once at construction, so reconnects can never
// duplicate handlers. All callbacks are invoked from the adapter's read
// goroutine (or the caller's goroutine for Connect/Disconnect transitions)
// and must not block for long.
type Callbacks struct {
	OnStatusChange func(Status)
	OnEvent        func(InboundEvent)
	OnAuthFailure  func(error)
}

// Config wires the adapter's dependencies.
type Config struct {
	Log       *zap.Logger
	URL       string        // websocket endpoint, e.g. ws://host/ws
	TokenFunc func() string // credential supplier, consulted on every (re)dial
	Policy    ReconnectPolicy
	Dialer    *websocket.Dialer // optional; defaults to websocket.DefaultDialer
}

// Adapter manages one physical connection. It is safe for concurrent use.
type Adapter struct {
	log    *zap.Logger
	url    string
	token  func() string
	policy ReconnectPolicy
	dialer *websocket.Dialer
	cb     Callbacks

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	stopped  bool
	gen      uint64 // connection generation; stale read loops bail out
	reconGen uint64 // reconnect-loop generation; superseded loops bail out
	pending  map[string]chan error

	writeMu sync.Mutex
}

// NewAdapter builds an Adapter. Callbacks may have nil members.
func NewAdapter(cfg Config, cb Callbacks) *Adapter {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultReconnectPolicy()
	}
	if cfg.TokenFunc == nil {
		cfg.TokenFunc = func() string { return "" }
	}
	return &Adapter{
		log:     cfg.Log,
		url:     cfg.URL,
		token:   cfg.TokenFunc,
		policy:  cfg.Policy,
		dialer:  cfg.Dialer,
		cb:      cb,
		pending: make(map[string]chan error),
	}
}

// Status returns the current connection state.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Connect establishes the connection. It is idempotent: connecting while
// already connected is a no-op, and a lingering previous connection is torn
// down first (teardown errors are swallowed and logged). Transport errors
// do not propagate to the caller; they land the adapter in Disconnected,
// or raise the auth-failure signal for a rejected credential.
func (a *Adapter) Connect(ctx context.Context) {
	a.mu.Lock()
	if a.status == StatusConnected || a.status == StatusConnecting {
		a.mu.Unlock()
		return
	}
	a.stopped = false
	// An explicit connect supersedes any sleeping reconnect loop; it must
	// not wake up later and adopt a second connection.
	a.reconGen++
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.log.Warn("teardown of stale connection", zap.Error(err))
		}
		a.conn = nil
	}
	a.mu.Unlock()

	a.transition(StatusConnecting)

	conn, err := a.dial(ctx)
	if err != nil {
		if IsAuthFailure(err) {
			a.raiseAuthFailure(err)
			return
		}
		a.log.Warn("connect failed", zap.Error(err))
		a.transition(StatusDisconnected)
		return
	}
	a.adopt(conn)
}

// Disconnect tears down the connection. It always succeeds from the
// caller's perspective; teardown errors are caught and ignored.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.stopped = true
	if a.conn != nil {
		_ = a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		if err := a.conn.Close(); err != nil {
			a.log.Debug("teardown", zap.Error(err))
		}
		a.conn = nil
	}
	a.failPendingLocked(ErrNotConnected)
	a.mu.Unlock()

	a.transition(StatusDisconnected)
}

// Invoke sends a method call over the channel and waits for the server's
// result frame. Errors propagate to the caller; a result classified as an
// authorization failure additionally raises the auth-failure signal.
func (a *Adapter) Invoke(ctx context.Context, method string, args any) error {
	a.mu.Lock()
	if a.status != StatusConnected || a.conn == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	conn := a.conn
	id := uuid.NewString()
	done := make(chan error, 1)
	a.pending[id] = done
	a.mu.Unlock()

	payload, err := json.Marshal(args)
	if err != nil {
		a.dropPending(id)
		return fmt.Errorf("encode %s args: %w", method, err)
	}
	f := frame{Type: frameInvoke, ID: id, Method: method, Args: payload}

	a.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(f)
	a.writeMu.Unlock()
	if err != nil {
		a.dropPending(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case err := <-done:
		if err != nil && IsAuthFailure(err) {
			a.raiseAuthFailure(err)
		}
		return err
	case <-ctx.Done():
		a.dropPending(id)
		return ctx.Err()
	}
}

// dial opens a websocket with the current credential attached. A rejected
// upgrade keeps its HTTP status so the classifier can see a 401.
func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if tok := a.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	conn, resp, err := a.dialer.DialContext(ctx, a.url, header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, err
	}
	return conn, nil
}

// adopt installs a freshly dialed connection and starts its read loop.
func (a *Adapter) adopt(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	if a.conn != nil && a.conn != conn {
		// A connection already exists; close it before adopting the new
		// one. The generation bump below retires its read loop silently.
		_ = a.conn.Close()
	}
	a.conn = conn
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	a.transition(StatusConnected)
	go a.readLoop(gen, conn)
}

const maxFrameSize = 64 * 1024

func (a *Adapter) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			a.handleReadError(gen, err)
			return
		}
		a.dispatch(f)
	}
}

// dispatch routes one decoded frame. It runs on the read goroutine, so
// events reach the consumer in exactly the order the transport delivered
// them.
func (a *Adapter) dispatch(f frame) {
	switch f.Type {
	case frameResult:
		a.mu.Lock()
		done, ok := a.pending[f.ID]
		if ok {
			delete(a.pending, f.ID)
		}
		a.mu.Unlock()
		if !ok {
			a.log.Debug("result for unknown invoke", zap.String("id", f.ID))
			return
		}
		if f.Error != "" {
			done <- errors.New(f.Error)
		} else {
			done <- nil
		}
	case frameEvent:
		ev, ok := decodeEvent(f)
		if !ok {
			a.log.Warn("dropping unknown event", zap.String("event", f.Event))
			return
		}
		if a.cb.OnEvent != nil {
			a.cb.OnEvent(ev)
		}
	default:
		a.log.Warn("dropping unknown frame type", zap.String("type", f.Type))
	}
}

func (a *Adapter) handleReadError(gen uint64, err error) {
	a.mu.Lock()
	if a.stopped || gen != a.gen {
		// Superseded by an explicit Disconnect or a newer connection.
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.failPendingLocked(err)
	a.reconGen++
	token := a.reconGen
	a.mu.Unlock()

	if IsAuthFailure(err) {
		a.raiseAuthFailure(err)
		return
	}
	if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		a.log.Info("connection lost", zap.Error(err))
	} else {
		a.log.Warn("connection lost", zap.Error(err))
	}
	a.transition(StatusReconnecting)
	go a.reconnectLoop(token)
}

// reconnectLoop redials with exponential backoff until it succeeds, hits an
// auth failure, is stopped or superseded, or exhausts its attempts. The
// token ties the loop to the connection loss that started it; an explicit
// Connect or Disconnect in the meantime invalidates it.
func (a *Adapter) reconnectLoop(token uint64) {
	for attempt := 0; attempt < a.policy.MaxAttempts; attempt++ {
		time.Sleep(a.policy.Delay(attempt))

		if a.superseded(token) {
			return
		}

		conn, err := a.dial(context.Background())
		if err != nil {
			if IsAuthFailure(err) {
				a.raiseAuthFailure(err)
				return
			}
			a.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		a.adopt(conn)
		return
	}
	if a.superseded(token) {
		return
	}
	a.log.Warn("reconnect attempts exhausted", zap.Int("attempts", a.policy.MaxAttempts))
	a.transition(StatusDisconnected)
}

func (a *Adapter) superseded(token uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped || token != a.reconGen
}

// raiseAuthFailure moves the machine to Disconnected regardless of what the
// transport reports, then fires the auth-failure signal.
func (a *Adapter) raiseAuthFailure(err error) {
	a.mu.Lock()
	a.stopped = true
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.failPendingLocked(err)
	a.mu.Unlock()

	a.transition(StatusDisconnected)
	if a.cb.OnAuthFailure != nil {
		a.cb.OnAuthFailure(err)
	}
}

func (a *Adapter) transition(next Status) {
	a.mu.Lock()
	if a.status == next {
		a.mu.Unlock()
		return
	}
	a.status = next
	a.mu.Unlock()
	if a.cb.OnStatusChange != nil {
		a.cb.OnStatusChange(next)
	}
}

func (a *Adapter) dropPending(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// failPendingLocked resolves every in-flight invoke with err. Callers must
// hold a.mu.
func (a *Adapter) failPendingLocked(err error) {
	for id, done := range a.pending {
		done <- err
		delete(a.pending, id)
	}
}
