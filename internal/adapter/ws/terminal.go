package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/chriopter/sandboxer/internal/adapter/otel"
	"github.com/chriopter/sandboxer/internal/port/terminal"
)

// controlFrame is a JSON text message steering the terminal channel. Any
// other traffic on the socket is raw pane I/O.
type controlFrame struct {
	Action  string `json:"action"`
	Session string `json:"session,omitempty"`
	Rows    uint16 `json:"rows,omitempty"`
	Cols    uint16 `json:"cols,omitempty"`
}

// Control actions.
const (
	actionAttach = "attach"
	actionDetach = "detach"
	actionResize = "resize"
)

// ack is the server's answer to a control frame. "eof" is pushed without a
// preceding frame when the attached pane dies.
type ack struct {
	Status  string `json:"status"`
	Session string `json:"session,omitempty"`
	Message string `json:"message,omitempty"`
}

// TerminalHandler upgrades /ws connections and routes each one to at most
// one pane at a time. Attaching implicitly detaches from the previous pane.
type TerminalHandler struct {
	hosts terminal.HostManager
	log   *slog.Logger
}

// NewTerminalHandler creates the terminal channel handler.
func NewTerminalHandler(hosts terminal.HostManager, log *slog.Logger) *TerminalHandler {
	return &TerminalHandler{hosts: hosts, log: log}
}

// termClient is the per-connection state: the socket, a write lock shared
// by the control loop and the output pump, and the current attachment.
type termClient struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex

	attached *attachment
}

// attachment is one live subscription plus the flag distinguishing a client
// detach from the pane dying underneath it.
type attachment struct {
	name     string
	sub      terminal.Subscription
	detached atomic.Bool
}

func (h *TerminalHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("terminal accept failed", "error", err)
		return
	}

	ctx := r.Context()
	c := &termClient{id: uuid.NewString(), ws: ws}
	h.log.Info("terminal connected", "conn", c.id, "remote", r.RemoteAddr)

	defer func() {
		c.detach()
		_ = ws.Close(websocket.StatusNormalClosure, "")
		h.log.Info("terminal disconnected", "conn", c.id)
	}()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.input(data)
		case websocket.MessageText:
			var frame controlFrame
			if json.Unmarshal(data, &frame) != nil || frame.Action == "" {
				// Plain text from the client is keystrokes too.
				c.input(data)
				continue
			}
			h.control(ctx, c, frame)
		}
	}
}

func (h *TerminalHandler) control(ctx context.Context, c *termClient, frame controlFrame) {
	switch frame.Action {
	case actionAttach:
		c.detach()
		_, span := otel.StartAttachSpan(ctx, frame.Session)
		sub, err := h.hosts.Subscribe(frame.Session, frame.Rows, frame.Cols)
		span.End()
		if err != nil {
			h.log.Warn("attach failed", "session", frame.Session, "error", err)
			c.send(ctx, ack{Status: "error", Session: frame.Session, Message: err.Error()})
			return
		}
		at := &attachment{name: frame.Session, sub: sub}
		c.attached = at
		c.send(ctx, ack{Status: "attached", Session: frame.Session})
		go c.pump(ctx, at)

	case actionDetach:
		c.detach()
		c.send(ctx, ack{Status: "detached"})

	case actionResize:
		if c.attached == nil {
			c.send(ctx, ack{Status: "error", Message: "not attached"})
			return
		}
		if err := c.attached.sub.Resize(frame.Rows, frame.Cols); err != nil {
			c.send(ctx, ack{Status: "error", Session: c.attached.name, Message: err.Error()})
		}

	default:
		c.send(ctx, ack{Status: "error", Message: "unknown action " + frame.Action})
	}
}

// pump forwards pane output to the socket until the subscription ends.
// A close that was not requested by the client means the pane is gone.
func (c *termClient) pump(ctx context.Context, at *attachment) {
	for chunk := range at.sub.Output() {
		// Backlog buffered before a detach belongs to the old
		// attachment and must not reach the socket.
		if at.detached.Load() {
			continue
		}
		c.writeMu.Lock()
		err := c.ws.Write(ctx, websocket.MessageBinary, chunk)
		c.writeMu.Unlock()
		if err != nil {
			at.sub.Close()
			return
		}
	}
	if !at.detached.Load() {
		c.send(ctx, ack{Status: "eof", Session: at.name})
	}
}

func (c *termClient) input(data []byte) {
	if c.attached == nil || len(data) == 0 {
		return
	}
	_ = c.attached.sub.Write(data)
}

func (c *termClient) detach() {
	if c.attached == nil {
		return
	}
	c.attached.detached.Store(true)
	c.attached.sub.Close()
	c.attached = nil
}

func (c *termClient) send(ctx context.Context, a ack) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.Write(ctx, websocket.MessageText, data)
}
