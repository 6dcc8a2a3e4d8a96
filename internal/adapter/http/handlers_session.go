package http

import (
	"net/http"

	"github.com/chriopter/sandboxer/internal/domain/session"
	"github.com/chriopter/sandboxer/internal/service"
)

// Handlers bundles the services the REST API fronts.
type Handlers struct {
	sessions *service.SessionService
	chat     *service.ChatService
}

// NewHandlers creates the API handler set.
func NewHandlers(sessions *service.SessionService, chat *service.ChatService) *Handlers {
	return &Handlers{sessions: sessions, chat: chat}
}

// ListSessions returns the sessions visible under the selected folder.
// A folder query parameter overrides the persisted scope for this request.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), r.URL.Query().Get("folder"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreateSession creates a session, generating a name when none is given.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Type == "" {
		req.Type = session.TypeClaude
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown session type "+string(req.Type))
		return
	}

	sess, err := h.sessions.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// KillSession tears a session down.
func (h *Handlers) KillSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Kill(r.Context(), urlParam(r, "name")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameSession changes a session's name.
func (h *Handlers) RenameSession(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		NewName string `json:"new_name"`
	}](w, r)
	if !ok {
		return
	}
	if body.NewName == "" {
		writeError(w, http.StatusBadRequest, "new_name is required")
		return
	}
	if err := h.sessions.Rename(r.Context(), urlParam(r, "name"), body.NewName); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderSessions persists the dashboard tab order.
func (h *Handlers) ReorderSessions(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Names []string `json:"names"`
	}](w, r)
	if !ok {
		return
	}
	if len(body.Names) == 0 {
		writeError(w, http.StatusBadRequest, "names is required")
		return
	}
	if err := h.sessions.Reorder(r.Context(), body.Names); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleMode switches a session between terminal and chat driving.
func (h *Handlers) ToggleMode(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.ToggleMode(r.Context(), urlParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Snapshot returns the pane's rendered buffer for unattached previews.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	rows := queryUint16(r, "rows", 24)
	cols := queryUint16(r, "cols", 80)

	content, err := h.sessions.Snapshot(r.Context(), urlParam(r, "name"), rows, cols)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// Directories lists the folders offered by the directory picker.
func (h *Handlers) Directories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Directories(r.Context()))
}

// Resumable lists past agent conversations startable in a workdir.
func (h *Handlers) Resumable(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.Resumable(r.Context(), r.URL.Query().Get("workdir"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []session.Resumable{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetSelectedFolder returns the persisted dashboard folder scope.
func (h *Handlers) GetSelectedFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := h.sessions.SelectedFolder(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"folder": folder})
}

// SetSelectedFolder persists the dashboard folder scope.
func (h *Handlers) SetSelectedFolder(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Folder string `json:"folder"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.sessions.SetSelectedFolder(r.Context(), body.Folder); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
