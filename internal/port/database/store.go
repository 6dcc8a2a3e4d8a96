// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/chriopter/sandboxer/internal/domain/chat"
	"github.com/chriopter/sandboxer/internal/domain/session"
)

// Store is the port interface for the persisted session registry and
// message transcript. Implementations are the single writer of record;
// callers serialize per-session, different sessions may be written in
// parallel.
type Store interface {
	// Sessions
	ListSessions(ctx context.Context) ([]session.Session, error)
	GetSession(ctx context.Context, name string) (*session.Session, error)
	UpsertSession(ctx context.Context, s *session.Session) error
	RenameSession(ctx context.Context, oldName, newName string) error
	SetSessionMode(ctx context.Context, name string, mode session.Mode) error
	SetSessionTitle(ctx context.Context, name, title string) error
	SetSessionResumeToken(ctx context.Context, name, token string) error
	SetSessionOrder(ctx context.Context, names []string) error
	DeleteSession(ctx context.Context, name string) error

	// Messages
	CreateMessage(ctx context.Context, m *chat.Message) (int64, error)
	UpdateMessage(ctx context.Context, id int64, content string, status chat.Status, meta *chat.Metadata) error
	ListMessages(ctx context.Context, sessionName string, limit int) ([]chat.Message, error)
	ListMessagesSince(ctx context.Context, sessionName string, sinceID int64) ([]chat.Message, error)
	LatestMessageID(ctx context.Context, sessionName string) (int64, error)
	ClearMessages(ctx context.Context, sessionName string) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}
