package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chriopter/sandboxer/internal/domain/chat"
)

const messageColumns = `id, session_name, role, content, status, metadata, created_at`

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var m chat.Message
	err := row.Scan(&m.ID, &m.SessionName, &m.Role, &m.Content, &m.Status, &m.Metadata, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *chat.Message) (int64, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (session_name, role, content, status, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		m.SessionName, m.Role, m.Content, m.Status, m.Metadata,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("create message for %s: %w", m.SessionName, err)
	}
	return m.ID, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id int64, content string, status chat.Status, meta *chat.Metadata) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $2, status = $3, metadata = $4 WHERE id = $1`,
		id, content, status, meta)
	return execExpectOne(tag, err, "update message %d", id)
}

// ListMessages returns the newest limit messages in chronological order.
// limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, sessionName string, limit int) ([]chat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_name = $1 ORDER BY id ASC`
	args := []any{sessionName}
	if limit > 0 {
		query = `SELECT ` + messageColumns + ` FROM (
		     SELECT ` + messageColumns + ` FROM messages
		     WHERE session_name = $1 ORDER BY id DESC LIMIT $2
		 ) latest ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionName, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListMessagesSince returns messages with id >= sinceID plus any message
// still pending or streaming, so pollers always observe live content
// updates even when no new row was created.
func (s *Store) ListMessagesSince(ctx context.Context, sessionName string, sinceID int64) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_name = $1 AND (id >= $2 OR status IN ('pending', 'streaming'))
		 ORDER BY id ASC`,
		sessionName, sinceID)
	if err != nil {
		return nil, fmt.Errorf("list messages since %d for %s: %w", sinceID, sessionName, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Store) LatestMessageID(ctx context.Context, sessionName string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE session_name = $1`,
		sessionName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest message id for %s: %w", sessionName, err)
	}
	return id, nil
}

func (s *Store) ClearMessages(ctx context.Context, sessionName string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE session_name = $1`, sessionName); err != nil {
		return fmt.Errorf("clear messages for %s: %w", sessionName, err)
	}
	return nil
}

func collectMessages(rows pgx.Rows) ([]chat.Message, error) {
	var result []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
