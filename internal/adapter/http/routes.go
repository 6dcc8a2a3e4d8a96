package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/resumable", h.Resumable)
		r.Put("/sessions/order", h.ReorderSessions)
		r.Delete("/sessions/{name}", h.KillSession)
		r.Post("/sessions/{name}/rename", h.RenameSession)
		r.Post("/sessions/{name}/mode", h.ToggleMode)
		r.Get("/sessions/{name}/snapshot", h.Snapshot)

		r.Post("/sessions/{name}/chat", h.SendChat)
		r.Get("/sessions/{name}/messages", h.ListMessages)
		r.Get("/sessions/{name}/messages/poll", h.PollMessages)
		r.Delete("/sessions/{name}/messages", h.ClearMessages)

		r.Get("/directories", h.Directories)
		r.Get("/selected-folder", h.GetSelectedFolder)
		r.Post("/selected-folder", h.SetSelectedFolder)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
