package http

import (
	"encoding/json"
	"net/http"

	"github.com/chriopter/sandboxer/internal/domain/chat"
)

// historyDefault bounds a transcript fetch unless the client asks otherwise.
const historyDefault = 200

// SendChat starts one turn and streams its events as SSE. The turn itself
// runs detached; a dropped response does not abort it.
func (h *Handlers) SendChat(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Prompt string `json:"prompt"`
	}](w, r)
	if !ok {
		return
	}

	events, err := h.chat.Send(r.Context(), urlParam(r, "name"), body.Prompt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, canStream := w.(http.Flusher)
	if !canStream {
		// Fall back to draining the turn and returning the final event.
		var last chat.Event
		for ev := range events {
			last = ev
		}
		writeJSON(w, http.StatusOK, last)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The channel must be drained to completion even when the client is
	// gone, or the turn's event pipeline stalls.
	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}

// ListMessages returns a session's transcript.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := int(queryInt64(r, "limit", historyDefault))
	msgs, err := h.chat.History(r.Context(), urlParam(r, "name"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PollMessages returns messages at or after since_id plus anything still
// streaming, so reconnecting tabs catch up without a full reload.
func (h *Handlers) PollMessages(w http.ResponseWriter, r *http.Request) {
	sinceID := queryInt64(r, "since_id", 0)
	poll, err := h.chat.PollMessages(r.Context(), urlParam(r, "name"), sinceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if poll.Messages == nil {
		poll.Messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, poll)
}

// ClearMessages wipes a session's transcript.
func (h *Handlers) ClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Clear(r.Context(), urlParam(r, "name")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
