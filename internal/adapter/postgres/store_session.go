package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chriopter/sandboxer/internal/domain"
	"github.com/chriopter/sandboxer/internal/domain/session"
)

const sessionColumns = `name, workdir, type, mode, title, resume_token, order_index, created_at, updated_at`

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	err := row.Scan(&s.Name, &s.Workdir, &s.Type, &s.Mode, &s.Title,
		&s.ResumeToken, &s.OrderIndex, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY order_index ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, name string) (*session.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE name = $1`, name))
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", name)
	}
	return sess, nil
}

func (s *Store) UpsertSession(ctx context.Context, sess *session.Session) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (name, workdir, type, mode, title, resume_token, order_index)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         COALESCE((SELECT MAX(order_index) + 1 FROM sessions), 0))
		 ON CONFLICT (name) DO UPDATE SET
		     workdir = EXCLUDED.workdir,
		     type = EXCLUDED.type,
		     mode = EXCLUDED.mode,
		     updated_at = NOW()
		 RETURNING order_index, created_at, updated_at`,
		sess.Name, sess.Workdir, sess.Type, sess.Mode, sess.Title, sess.ResumeToken,
	).Scan(&sess.OrderIndex, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.Name, err)
	}
	return nil
}

func (s *Store) RenameSession(ctx context.Context, oldName, newName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET name = $2, updated_at = NOW() WHERE name = $1`, oldName, newName)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("rename session %s to %s: %w", oldName, newName, domain.ErrConflict)
	}
	return execExpectOne(tag, err, "rename session %s", oldName)
}

func (s *Store) SetSessionMode(ctx context.Context, name string, mode session.Mode) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET mode = $2, updated_at = NOW() WHERE name = $1`, name, mode)
	return execExpectOne(tag, err, "set mode for session %s", name)
}

func (s *Store) SetSessionTitle(ctx context.Context, name, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = NOW() WHERE name = $1`, name, title)
	return execExpectOne(tag, err, "set title for session %s", name)
}

func (s *Store) SetSessionResumeToken(ctx context.Context, name, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET resume_token = $2, updated_at = NOW() WHERE name = $1`, name, token)
	return execExpectOne(tag, err, "set resume token for session %s", name)
}

// SetSessionOrder reassigns order_index to match the given name order.
// Names absent from the list keep their index and sort after the listed ones.
func (s *Store) SetSessionOrder(ctx context.Context, names []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("set session order: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, name := range names {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET order_index = $2, updated_at = NOW() WHERE name = $1`,
			name, i); err != nil {
			return fmt.Errorf("set order for session %s: %w", name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("set session order: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE name = $1`, name)
	return execExpectOne(tag, err, "delete session %s", name)
}
