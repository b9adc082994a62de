package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (token via query parameter)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Sites
	mux.HandleFunc("/sites", s.app.SiteHandler.CollectionHandler)
	mux.HandleFunc("/sites/", s.app.SiteHandler.ItemHandler)

	// Apps (merge registered before the item prefix so it wins the match)
	mux.HandleFunc("/apps", s.app.AppHandler.CollectionHandler)
	mux.HandleFunc("/apps/merge", s.app.AppHandler.MergeHandler)
	mux.HandleFunc("/apps/", s.app.AppHandler.ItemHandler)

	// Jobs
	mux.HandleFunc("/jobs", s.app.JobHandler.CollectionHandler)
	mux.HandleFunc("/jobs/", s.app.JobHandler.ItemHandler)

	// Log events (read-only)
	mux.HandleFunc("/events", s.app.EventHandler.CollectionHandler)

	// Batch jobs
	mux.HandleFunc("/batch-jobs", s.app.BatchJobHandler.CollectionHandler)
	mux.HandleFunc("/batch-jobs/", s.app.BatchJobHandler.ItemHandler)

	// Sessions (including /sessions/{id}/ticks and /sessions/{id}/acquire)
	mux.HandleFunc("/sessions", s.app.SessionHandler.CollectionHandler)
	mux.HandleFunc("/sessions/", s.app.SessionHandler.ItemHandler)

	// Transfer items
	mux.HandleFunc("/transfers", s.app.TransferHandler.CollectionHandler)
	mux.HandleFunc("/transfers/", s.app.TransferHandler.ItemHandler)

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
