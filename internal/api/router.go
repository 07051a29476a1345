package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/agencydesk/internal/changefeed"
	"github.com/starford/agencydesk/internal/docstore"
)

// NewRouter creates a chi router with all API routes mounted.
// feed, if non-nil, is mounted at GET /events (SSE) and GET /ws (WebSocket)
// behind the same auth middleware.
func NewRouter(store *docstore.Store, auth AuthConfig, feed *changefeed.Broker) chi.Router {
	h := NewHandler(store)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth))

	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/{key}", h.GetDocument)
	r.Put("/documents/{key}", h.PutDocument)
	r.Delete("/documents/{key}", h.DeleteDocument)

	r.Get("/export", h.Export)
	r.Post("/import", h.Import)
	r.Get("/backup", h.BackupStatus)

	if feed != nil {
		r.Get("/events", feed.ServeHTTP)
		r.Get("/ws", feed.ServeWebSocket)
	}

	return r
}
