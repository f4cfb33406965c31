// Package history fetches the persisted message backlog for a conversation
// over the REST API. Backends have shipped records under several field-name
// casings (senderId / SenderId / sender_id, content / Message, sentAt /
// CreateTime, nested Sender objects), so normalization here is deliberately
// forgiving.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"smartnote-chat/internal/session"
)

// Config wires the history client.
type Config struct {
	Log        *zap.Logger
	BaseURL    string        // e.g. http://host:8080
	TokenFunc  func() string // credential supplier
	HTTPClient *http.Client  // optional
}

// Client implements session.HistoryFetcher against the chat REST API.
type Client struct {
	log    *zap.Logger
	base   string
	token  func() string
	client *http.Client
}

// NewClient builds a Client.
func NewClient(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.TokenFunc == nil {
		cfg.TokenFunc = func() string { return "" }
	}
	return &Client{
		log:    cfg.Log,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.TokenFunc,
		client: cfg.HTTPClient,
	}
}

// FetchHistory returns the backlog for h, oldest first. IsSelf is left for
// the coordinator to derive.
func (c *Client) FetchHistory(ctx context.Context, h session.Handle) ([]session.Message, error) {
	url := fmt.Sprintf("%s/api/chat/%s/%d", c.base, h.Kind, h.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read history body: %w", err)
	}
	records, err := unwrapRecords(body)
	if err != nil {
		return nil, err
	}

	msgs := make([]session.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, normalizeRecord(rec))
	}
	return msgs, nil
}

// unwrapRecords accepts either a bare JSON array or an envelope holding the
// array under a "data" key.
func unwrapRecords(body []byte) ([]map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode history body: %w", err)
	}
	switch v := decoded.(type) {
	case []any:
		return toRecordSlice(v), nil
	case map[string]any:
		if inner, ok := pick(v, "data"); ok {
			if arr, ok := inner.([]any); ok {
				return toRecordSlice(arr), nil
			}
		}
		return nil, fmt.Errorf("decode history body: envelope without data array")
	default:
		return nil, fmt.Errorf("decode history body: unexpected shape")
	}
}

func toRecordSlice(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

func normalizeRecord(rec map[string]any) session.Message {
	msg := session.Message{}

	if v, ok := pick(rec, "senderId", "sender_id", "userId", "user_id"); ok {
		msg.SenderID = toInt(v)
	} else if v, ok := pick(rec, "sender"); ok {
		if nested, ok := v.(map[string]any); ok {
			if id, ok := pick(nested, "id"); ok {
				msg.SenderID = toInt(id)
			}
		}
	}

	if v, ok := pick(rec, "content", "message", "body"); ok {
		if s, ok := v.(string); ok {
			msg.Content = s
		}
	}

	if v, ok := pick(rec, "sentAt", "sent_at", "createTime", "create_time", "createdAt", "created_at"); ok {
		msg.SentAt = toTime(v)
	}

	return msg
}

// pick returns the first value whose key matches any of keys, comparing
// case-insensitively so senderId / SenderId / SENDERID all resolve.
func pick(rec map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := rec[key]; ok {
			return v, true
		}
	}
	for _, key := range keys {
		for k, v := range rec {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return nil, false
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	case float64:
		// Epoch seconds (or milliseconds when implausibly large).
		if t > 1e12 {
			return time.UnixMilli(int64(t))
		}
		return time.Unix(int64(t), 0)
	}
	return time.Time{}
}
