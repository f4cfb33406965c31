// Command loadtest drives many concurrent chat sessions against a running
// server. Users are created in pairs: each pair opens a private
// conversation and exchanges messages through the full session core, so
// the test exercises login, the websocket channel, history fetches, and
// optimistic sends end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"smartnote-chat/internal/channel"
	"smartnote-chat/internal/history"
	"smartnote-chat/internal/identity"
	"smartnote-chat/internal/session"
)

var (
	baseURL   = flag.String("url", "http://localhost:8080", "server base url")
	pairCount = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

var (
	sendOK   atomic.Int64
	sendFail atomic.Int64
)

func main() {
	flag.Parse()
	log.Printf("starting load test: %d users, %d messages each", *pairCount*2, *msgCount)

	var wg sync.WaitGroup
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete: %d sent, %d failed", sendOK.Load(), sendFail.Load())
}

func runPair(pairID int) {
	userA := fmt.Sprintf("lt_%d_a", pairID)
	userB := fmt.Sprintf("lt_%d_b", pairID)
	pass := "password123"

	credsA, err := authenticate(userA, pass)
	if err != nil {
		log.Printf("pair %d: auth %s: %v", pairID, userA, err)
		return
	}
	credsB, err := authenticate(userB, pass)
	if err != nil {
		log.Printf("pair %d: auth %s: %v", pairID, userB, err)
		return
	}

	var inner sync.WaitGroup
	inner.Add(2)
	go func() { defer inner.Done(); runUser(credsA, credsB.ID) }()
	go func() { defer inner.Done(); runUser(credsB, credsA.ID) }()
	inner.Wait()
}

// runUser connects one session, opens the private conversation with peerID,
// and sends its share of messages.
func runUser(creds *loginResponse, peerID int) {
	ident := identity.NewContext(nil)
	ident.SetToken(creds.AccessToken)
	ident.SetProfile(&identity.Profile{ID: creds.ID, Username: creds.Username})

	fetcher := history.NewClient(history.Config{
		BaseURL:   *baseURL,
		TokenFunc: ident.Token,
	})
	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/ws"

	coord := session.NewCoordinator(session.Config{
		Log:      zap.NewNop(),
		Identity: ident,
		History:  fetcher,
		NewChannel: func(cb channel.Callbacks) session.Channel {
			return channel.NewAdapter(channel.Config{
				URL:       wsURL,
				TokenFunc: ident.Token,
			}, cb)
		},
	})
	defer coord.Disconnect()

	coord.Connect(context.Background())
	if err := coord.SwitchConversation(context.Background(), session.PrivateHandle(peerID)); err != nil {
		log.Printf("user %d: switch: %v", creds.ID, err)
	}

	for i := 0; i < *msgCount; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := coord.SendMessage(ctx, fmt.Sprintf("message %d from %s", i, creds.Username))
		cancel()
		if err != nil {
			sendFail.Add(1)
			continue
		}
		sendOK.Add(1)
		time.Sleep(50 * time.Millisecond)
	}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}

func authenticate(username, password string) (*loginResponse, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})

	resp, err := http.Post(*baseURL+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	resp, err = http.Post(*baseURL+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
