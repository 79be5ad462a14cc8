package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/dairysync/internal/middleware"
)

// CollectionStatus is one row of GET /api/sync/status
type CollectionStatus struct {
	Online bool `json:"online"`
	Paused bool `json:"paused"`
}

// getSyncStatus returns the replication status of every collection
func (r *Router) getSyncStatus(w http.ResponseWriter, req *http.Request) {
	if r.deps.Sync == nil {
		respondError(w, http.StatusServiceUnavailable, "Replication is not enabled")
		return
	}

	status := make(map[string]CollectionStatus)
	for name, online := range r.deps.Sync.Status() {
		status[name] = CollectionStatus{Online: online, Paused: r.deps.Sync.IsPaused(name)}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collections": status,
	})
}

func (r *Router) pauseSync(w http.ResponseWriter, req *http.Request) {
	r.toggleSync(w, req, true)
}

func (r *Router) resumeSync(w http.ResponseWriter, req *http.Request) {
	r.toggleSync(w, req, false)
}

func (r *Router) toggleSync(w http.ResponseWriter, req *http.Request, pause bool) {
	if r.deps.Sync == nil {
		respondError(w, http.StatusServiceUnavailable, "Replication is not enabled")
		return
	}
	name := mux.Vars(req)["collection"]

	var err error
	if pause {
		err = r.deps.Sync.Pause(name)
	} else {
		err = r.deps.Sync.Resume(name)
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collection": name,
		"paused":     pause,
	})
}

// pauseAll stops replication of every collection, as on logout
func (r *Router) pauseAll(w http.ResponseWriter, req *http.Request) {
	if r.deps.Sync == nil {
		respondError(w, http.StatusServiceUnavailable, "Replication is not enabled")
		return
	}
	for _, name := range r.deps.Registry.Names() {
		if err := r.deps.Sync.Pause(name); err != nil {
			log.Printf("⚠️ Pause %s: %v", name, err)
		}
	}
	p, _ := middleware.PrincipalFromContext(req.Context())
	log.Printf("⏸️ Replication paused by %s", p.Username)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Replication paused"})
}
