// Package agentrunner defines the agent runner port (interface) and the
// factory registry for runner implementations.
package agentrunner

import (
	"context"

	"github.com/chriopter/sandboxer/internal/domain/chat"
)

// Request describes one conversational turn to execute.
type Request struct {
	SessionName string
	Workdir     string
	Prompt      string
	// ResumeToken continues a prior conversation when non-empty.
	ResumeToken string
}

// EventType discriminates runner stream events.
type EventType string

// Runner event types.
const (
	// EventInit carries the conversation identifier assigned by the agent.
	EventInit EventType = "init"
	// EventDelta carries an incremental chunk of assistant text.
	EventDelta EventType = "delta"
	// EventBlock carries a structured content block (tool use, thinking).
	EventBlock EventType = "block"
	// EventResult closes the turn with accounting data.
	EventResult EventType = "result"
	// EventFailed reports an abnormal process exit or a malformed
	// terminal event; the turn produced no usable result.
	EventFailed EventType = "failed"
)

// Event is one structured event decoded from the agent's output stream.
type Event struct {
	Type        EventType
	ResumeToken string      // init
	Delta       string      // delta
	Block       *chat.Block // block
	Result      *Result     // result
	Err         error       // failed
}

// Result carries the accounting data reported at the end of a turn.
type Result struct {
	Text       string
	CostUSD    float64
	DurationMS int64
	NumTurns   int
	IsError    bool
}

// Runner executes agent turns as cancellable streaming tasks. The returned
// channel delivers events in production order and is closed when the turn is
// finished or the context is cancelled; the final event is always a result
// or a failure.
type Runner interface {
	// Name returns the unique identifier for this runner (e.g. "claude").
	Name() string

	// Run starts one turn and streams its events.
	Run(ctx context.Context, req Request) (<-chan Event, error)
}
