// Package session defines the durable session record and its lifecycle types.
package session

import "time"

// Type identifies what command a session's terminal pane was started with.
type Type string

// Session types.
const (
	TypeClaude  Type = "claude"
	TypeChat    Type = "chat"
	TypeBash    Type = "bash"
	TypeLazygit Type = "lazygit"
	TypeCron    Type = "cron"
)

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	switch t {
	case TypeClaude, TypeChat, TypeBash, TypeLazygit, TypeCron:
		return true
	}
	return false
}

// Mode selects how a session is driven: as a live terminal or as a
// structured chat.
type Mode string

// Session modes.
const (
	ModeCLI  Mode = "cli"
	ModeChat Mode = "chat"
)

// Valid reports whether m is a known session mode.
func (m Mode) Valid() bool {
	return m == ModeCLI || m == ModeChat
}

// Session is the registry's durable record describing one terminal-backed
// session. Name doubles as the underlying tmux session name.
type Session struct {
	Name        string    `json:"name"`
	Workdir     string    `json:"workdir"`
	Type        Type      `json:"type"`
	Mode        Mode      `json:"mode"`
	Title       string    `json:"title,omitempty"`
	ResumeToken string    `json:"resume_token,omitempty"`
	OrderIndex  int       `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest is the request body for creating a new session. An empty
// Name asks the registry to generate one.
type CreateRequest struct {
	Name        string `json:"name,omitempty"`
	Type        Type   `json:"type"`
	Workdir     string `json:"workdir"`
	ResumeToken string `json:"resume_token,omitempty"`
}

// Resumable describes a prior agent conversation on disk that a new
// session can continue from.
type Resumable struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Size         int64     `json:"size"`
	MessageCount int       `json:"message_count"`
	Branch       string    `json:"branch,omitempty"`
	ModTime      time.Time `json:"mtime"`
}
