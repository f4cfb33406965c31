package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer upgrades every request and hands the connection to handler.
func wsServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recorder struct {
	statuses chan Status
	events   chan InboundEvent
	authErrs chan error
}

func newRecorder() *recorder {
	return &recorder{
		statuses: make(chan Status, 32),
		events:   make(chan InboundEvent, 32),
		authErrs: make(chan error, 4),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatusChange: func(s Status) { r.statuses <- s },
		OnEvent:        func(ev InboundEvent) { r.events <- ev },
		OnAuthFailure:  func(err error) { r.authErrs <- err },
	}
}

func (r *recorder) waitStatus(t *testing.T, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.statuses:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     2.0,
		MaxAttempts:    5,
	}
}

func TestAdapterConnectAndReceiveEvents(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for _, content := range []string{"first", "second"} {
			_ = conn.WriteJSON(frame{
				Type: frameEvent, Event: wireEventPrivateMessage,
				SenderID: 3, TargetID: 9, Content: content, SentAt: time.Now(),
			})
		}
		// Unknown events must be dropped, not surfaced.
		_ = conn.WriteJSON(frame{Type: frameEvent, Event: "typing_indicator"})
		time.Sleep(time.Hour)
	})

	rec := newRecorder()
	a := NewAdapter(Config{
		Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy(),
	}, rec.callbacks())
	defer a.Disconnect()

	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)

	ev := <-rec.events
	assert.Equal(t, EventPrivateMessage, ev.Kind)
	assert.Equal(t, 3, ev.SenderID)
	assert.Equal(t, 9, ev.TargetID)
	assert.Equal(t, "first", ev.Content)
	ev = <-rec.events
	assert.Equal(t, "second", ev.Content)

	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected event surfaced: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapterConnectIsIdempotent(t *testing.T) {
	var upgrades atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		upgrades.Add(1)
		defer conn.Close()
		time.Sleep(time.Hour)
	})

	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy()}, rec.callbacks())
	defer a.Disconnect()

	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)
	a.Connect(context.Background())
	a.Connect(context.Background())

	assert.Equal(t, int32(1), upgrades.Load())
	assert.Equal(t, StatusConnected, a.Status())
}

func TestAdapterInvoke(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type != frameInvoke {
				continue
			}
			var args SendArgs
			_ = json.Unmarshal(f.Args, &args)
			res := frame{Type: frameResult, ID: f.ID}
			if args.Content == "reject me" {
				res.Error = "server said no"
			}
			_ = conn.WriteJSON(res)
		}
	})

	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy()}, rec.callbacks())
	defer a.Disconnect()

	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)

	require.NoError(t, a.Invoke(context.Background(), MethodSendPrivate, SendArgs{TargetID: 1, Content: "hi"}))

	err := a.Invoke(context.Background(), MethodSendPrivate, SendArgs{TargetID: 1, Content: "reject me"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server said no")

	select {
	case err := <-rec.authErrs:
		t.Fatalf("ordinary send failure classified as auth failure: %v", err)
	default:
	}
}

func TestAdapterInvokeWhileDisconnected(t *testing.T) {
	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: "ws://127.0.0.1:0/ws", Policy: fastPolicy()}, rec.callbacks())

	err := a.Invoke(context.Background(), MethodSendPrivate, SendArgs{TargetID: 1, Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAdapterRejectedUpgradeRaisesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	rec := newRecorder()
	a := NewAdapter(Config{
		Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy(),
		TokenFunc: func() string { return "expired-token" },
	}, rec.callbacks())

	a.Connect(context.Background())

	select {
	case err := <-rec.authErrs:
		assert.True(t, IsAuthFailure(err))
	case <-time.After(5 * time.Second):
		t.Fatal("auth failure was not raised")
	}
	rec.waitStatus(t, StatusDisconnected)
}

func TestAdapterTransientConnectFailureStaysQuiet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy()}, rec.callbacks())

	a.Connect(context.Background())
	rec.waitStatus(t, StatusDisconnected)

	select {
	case err := <-rec.authErrs:
		t.Fatalf("transient failure classified as auth failure: %v", err)
	default:
	}
}

func TestAdapterReconnectsAfterConnectionLoss(t *testing.T) {
	var connects atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := connects.Add(1)
		if n == 1 {
			// Drop the first connection straight away.
			conn.Close()
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(frame{Type: frameEvent, Event: wireEventGroupMessage, GroupID: 7, SenderID: 2, Content: "back"})
		time.Sleep(time.Hour)
	})

	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy()}, rec.callbacks())
	defer a.Disconnect()

	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)
	rec.waitStatus(t, StatusReconnecting)
	rec.waitStatus(t, StatusConnected)

	ev := <-rec.events
	assert.Equal(t, EventGroupMessage, ev.Kind)
	assert.Equal(t, 7, ev.GroupID)
	assert.GreaterOrEqual(t, connects.Load(), int32(2))
}

func TestAdapterConnectDuringReconnectKeepsOneConnection(t *testing.T) {
	var connects atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := connects.Add(1)
		if n == 1 {
			// Drop the first connection to push the adapter into its
			// reconnect loop.
			conn.Close()
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(frame{Type: frameEvent, Event: wireEventPrivateMessage, SenderID: int(n), Content: "welcome"})
		time.Sleep(time.Hour)
	})

	policy := fastPolicy()
	policy.InitialBackoff = 500 * time.Millisecond // keep the loop asleep while Connect races it
	policy.MaxBackoff = 500 * time.Millisecond

	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: policy}, rec.callbacks())
	defer a.Disconnect()

	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)
	rec.waitStatus(t, StatusReconnecting)

	// Explicit reconnect while the automatic loop is still sleeping.
	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)

	// Let the sleeping loop wake up; it must notice it was superseded
	// instead of dialing a second live connection.
	time.Sleep(800 * time.Millisecond)

	assert.Equal(t, int32(2), connects.Load(), "superseded reconnect loop must not redial")
	assert.Equal(t, StatusConnected, a.Status())

	ev := <-rec.events
	assert.Equal(t, 2, ev.SenderID)
	select {
	case ev := <-rec.events:
		t.Fatalf("duplicate event stream after Connect during reconnect: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAdapterDisconnectAlwaysSucceeds(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		time.Sleep(time.Hour)
	})

	rec := newRecorder()
	a := NewAdapter(Config{Log: zaptest.NewLogger(t), URL: wsURL(srv), Policy: fastPolicy()}, rec.callbacks())

	// Disconnecting before ever connecting is harmless.
	a.Disconnect()

	a.Connect(context.Background())
	rec.waitStatus(t, StatusConnected)

	a.Disconnect()
	rec.waitStatus(t, StatusDisconnected)
	a.Disconnect()
	assert.Equal(t, StatusDisconnected, a.Status())
}
