package ws

// Event type constants for broadcast messages.
const (
	EventSessionCreated = "session.created"
	EventSessionRemoved = "session.removed"
	EventSessionRenamed = "session.renamed"
	EventSessionMode    = "session.mode"
	EventSessionTitle   = "session.title"
	EventSessionOrder   = "session.order"
	EventChatMessage    = "chat.message"
)

// SessionEvent is broadcast when a session appears or disappears.
type SessionEvent struct {
	Name    string `json:"name"`
	Workdir string `json:"workdir,omitempty"`
	Type    string `json:"type,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// SessionRenamedEvent is broadcast when a session changes name.
type SessionRenamedEvent struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// SessionModeEvent is broadcast when a session switches between cli and chat.
type SessionModeEvent struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// SessionTitleEvent is broadcast when a session's title changes.
type SessionTitleEvent struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// SessionOrderEvent is broadcast when the tab order is rearranged.
type SessionOrderEvent struct {
	Names []string `json:"names"`
}
