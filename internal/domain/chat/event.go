package chat

// EventType discriminates turn stream events.
type EventType string

// Event types.
const (
	// EventStatus signals a message status transition.
	EventStatus EventType = "status"
	// EventDelta carries an incremental content update.
	EventDelta EventType = "delta"
	// EventDone closes a turn and carries the final persisted message.
	EventDone EventType = "done"
	// EventTitle signals that the session title changed mid-stream.
	EventTitle EventType = "title"
)

// Event is one element of a turn's live stream. The identical sequence is
// delivered to the Send caller, applied to the message store, and broadcast
// to every subscribed tab, in that order per event.
type Event struct {
	Type        EventType `json:"type"`
	SessionName string    `json:"session"`
	MessageID   int64     `json:"message_id,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Delta       string    `json:"delta,omitempty"`
	Block       *Block    `json:"block,omitempty"`
	Title       string    `json:"title,omitempty"`
	Message     *Message  `json:"message,omitempty"`
}
