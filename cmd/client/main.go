// Command client is a small terminal chat client built on the session core.
// It logs in over REST, opens the realtime channel, and lets you switch
// between private and group conversations:
//
//	/open private 42
//	/open group 7
//	/unread
//	/quit
//
// Any other input line is sent to the open conversation.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"smartnote-chat/internal/channel"
	"smartnote-chat/internal/config"
	"smartnote-chat/internal/history"
	"smartnote-chat/internal/identity"
	"smartnote-chat/internal/logging"
	"smartnote-chat/internal/session"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base url")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -user and -pass are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ident := identity.NewContext(func() {
		fmt.Println("session expired, please log in again")
		os.Exit(1)
	})

	login, err := authenticate(*baseURL, *username, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	ident.SetToken(login.AccessToken)
	ident.SetProfile(&identity.Profile{ID: login.ID, Username: login.Username})

	fetcher := history.NewClient(history.Config{
		Log:       logger,
		BaseURL:   *baseURL,
		TokenFunc: ident.Token,
	})

	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/ws"
	coord := session.NewCoordinator(session.Config{
		Log:      logger,
		Identity: ident,
		History:  fetcher,
		NewChannel: func(cb channel.Callbacks) session.Channel {
			return channel.NewAdapter(channel.Config{
				Log:       logger,
				URL:       wsURL,
				TokenFunc: ident.Token,
				Policy: channel.ReconnectPolicy{
					InitialBackoff: cfg.Reconnect.InitialBackoff,
					MaxBackoff:     cfg.Reconnect.MaxBackoff,
					Multiplier:     cfg.Reconnect.Multiplier,
					JitterFraction: cfg.Reconnect.JitterFraction,
					MaxAttempts:    cfg.Reconnect.MaxAttempts,
				},
			}, cb)
		},
	})

	coord.Connect(context.Background())
	fmt.Printf("connected as %s (id %d)\n", login.Username, login.ID)

	go renderLoop(coord)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			coord.Disconnect()
			return
		case line == "/unread":
			for h, n := range coord.Snapshot().UnreadCounts {
				fmt.Printf("  %s %d: %d unread\n", h.Kind, h.ID, n)
			}
		case strings.HasPrefix(line, "/open "):
			h, err := parseOpen(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := coord.SwitchConversation(context.Background(), h); err != nil {
				fmt.Printf("open failed: %v\n", err)
				continue
			}
			for _, m := range coord.Snapshot().Messages {
				printMessage(m)
			}
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := coord.SendMessage(ctx, line)
			cancel()
			if err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

func parseOpen(line string) (session.Handle, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return session.Handle{}, fmt.Errorf("usage: /open private|group <id>")
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return session.Handle{}, fmt.Errorf("invalid id %q", parts[2])
	}
	switch parts[1] {
	case "private":
		return session.PrivateHandle(id), nil
	case "group":
		return session.GroupHandle(id), nil
	default:
		return session.Handle{}, fmt.Errorf("unknown conversation kind %q", parts[1])
	}
}

// renderLoop prints messages as they land in the active conversation.
func renderLoop(coord *session.Coordinator) {
	printed := 0
	var lastActive *session.Handle
	for range time.Tick(300 * time.Millisecond) {
		snap := coord.Snapshot()
		if !sameHandle(lastActive, snap.Active) {
			lastActive = snap.Active
			printed = len(snap.Messages)
			continue
		}
		for ; printed < len(snap.Messages); printed++ {
			printMessage(snap.Messages[printed])
		}
	}
}

func sameHandle(a, b *session.Handle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func printMessage(m session.Message) {
	who := fmt.Sprintf("user %d", m.SenderID)
	if m.IsSelf {
		who = "me"
	}
	fmt.Printf("[%s] %s: %s\n", m.SentAt.Format("15:04:05"), who, m.Content)
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}

func authenticate(baseURL, username, password string) (*loginResponse, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})

	// Register first; an already-taken username is fine, login decides.
	resp, err := http.Post(baseURL+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	resp, err = http.Post(baseURL+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
