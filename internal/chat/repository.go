package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const historyLimit = 50

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindOrCreatePrivateConversation returns the id of the 1:1 conversation
// between a and b, creating it (and both participant rows) if needed.
func (r *Repository) FindOrCreatePrivateConversation(ctx context.Context, a, b int) (int, error) {
	var id int
	query := `
		SELECT c.id
		FROM conversations c
		JOIN participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
		JOIN participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
		WHERE c.type = 'private'
		LIMIT 1
	`
	err := r.db.QueryRowContext(ctx, query, a, b).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Serialize creation per pair: without this, two concurrent first
	// messages can each miss the SELECT above and create two conversations,
	// splitting the pair's history. The lock is released at commit/rollback.
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lo, hi); err != nil {
		return 0, err
	}
	err = tx.QueryRowContext(ctx, query, a, b).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	if err := tx.QueryRowContext(ctx,
		`INSERT INTO conversations (type) VALUES ('private') RETURNING id`).Scan(&id); err != nil {
		return 0, err
	}
	for _, uid := range []int{a, b} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, uid); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateGroup creates a group conversation with the given members.
func (r *Repository) CreateGroup(ctx context.Context, name string, memberIDs []int) (int, error) {
	if len(memberIDs) == 0 {
		return 0, fmt.Errorf("group needs at least one member")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO conversations (type, name) VALUES ('group', $1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, err
	}
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, uid); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) ParticipantIDs(ctx context.Context, conversationID int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM participants WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveMessage persists one message and returns its server-side timestamp.
func (r *Repository) SaveMessage(ctx context.Context, conversationID, senderID int, content string) (time.Time, error) {
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3) RETURNING created_at`,
		conversationID, senderID, content).Scan(&createdAt)
	return createdAt, err
}

// PrivateHistory returns the last messages between a and b, oldest first.
func (r *Repository) PrivateHistory(ctx context.Context, a, b int) ([]Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id AND c.type = 'private'
		JOIN participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
		JOIN participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
		ORDER BY m.created_at DESC
		LIMIT $3
	`
	return r.queryMessages(ctx, query, a, b, historyLimit)
}

// GroupHistory returns the last messages of a group conversation, oldest
// first.
func (r *Repository) GroupHistory(ctx context.Context, conversationID int) ([]Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id AND c.type = 'group'
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2
	`
	return r.queryMessages(ctx, query, conversationID, historyLimit)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Queries read newest-first for the LIMIT; flip to delivery order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
