// Package chat defines the persisted message model for structured sessions
// and the typed event stream produced while a turn is running.
package chat

import "time"

// Role identifies who produced a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Status tracks a message through its streaming lifecycle.
// pending -> streaming -> complete | error. At most one message per session
// may be pending or streaming at any time.
type Status string

// Message statuses.
const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Message is one persisted row of a structured session's transcript.
// Content accumulates incrementally while the message is streaming; rows are
// otherwise append-only.
type Message struct {
	ID          int64     `json:"id"`
	SessionName string    `json:"session_name"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Status      Status    `json:"status"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Metadata is the structured side-channel stored alongside a message:
// tool invocations and cost/duration accounting reported by the agent.
type Metadata struct {
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	Blocks     []Block `json:"blocks,omitempty"`
}
