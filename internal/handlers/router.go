// Package handlers serves the node API used by the back-office UI.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/dairysync/internal/buildinfo"
	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/ingest"
	"github.com/xelth-com/dairysync/internal/middleware"
	"github.com/xelth-com/dairysync/internal/registry"
	"github.com/xelth-com/dairysync/internal/websocket"
)

// SyncController is the part of the replication manager the API drives
type SyncController interface {
	Status() map[string]bool
	IsPaused(name string) bool
	Pause(name string) error
	Resume(name string) error
}

// Deps are the collaborators of the node API. Sync, Pipeline and Hub may be
// nil; their routes then answer 503.
type Deps struct {
	Registry  *registry.Registry
	Sync      SyncController
	Pipeline  *ingest.Pipeline
	Hub       *websocket.Hub
	JWTSecret string
}

// Router wraps the mux router and the node's collaborators
type Router struct {
	*mux.Router
	deps Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		deps:   deps,
	}

	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// everything below carries a principal
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(deps.JWTSecret))

	api.HandleFunc("/sync/status", r.getSyncStatus).Methods("GET")
	api.HandleFunc("/sync/pause", r.pauseAll).Methods("POST")
	api.HandleFunc("/sync/{collection}/pause", r.pauseSync).Methods("POST")
	api.HandleFunc("/sync/{collection}/resume", r.resumeSync).Methods("POST")

	api.HandleFunc("/ingest", r.ingestExport).Methods("POST")

	api.HandleFunc("/collections", r.listCollections).Methods("GET")
	api.HandleFunc("/collections/{collection}/docs", r.createDocument).Methods("POST")
	api.HandleFunc("/collections/{collection}/docs/{id}", r.getDocument).Methods("GET")
	api.HandleFunc("/collections/{collection}/docs/{id}", r.putDocument).Methods("PUT")

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.AuthMiddleware(deps.JWTSecret))
	ws.HandleFunc("", r.serveWs).Methods("GET")

	return r
}

// healthCheck returns the health status of the node
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"server":      "node",
		"version":     buildinfo.Get().Version,
		"collections": len(r.deps.Registry.Names()),
	})
}

func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	if r.deps.Hub == nil {
		respondError(w, http.StatusServiceUnavailable, "Live updates are not enabled")
		return
	}
	principal, _ := middleware.PrincipalFromContext(req.Context())
	websocket.ServeWs(r.deps.Hub, principal, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondStoreError maps registry and store errors to status codes
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownCollection), errors.Is(err, docstore.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, docstore.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, docstore.ErrBadRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("❌ API error: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}
