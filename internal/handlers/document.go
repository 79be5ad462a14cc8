package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/middleware"
)

// listCollections returns the collection names of this node
func (r *Router) listCollections(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collections": r.deps.Registry.Names(),
	})
}

// getDocument returns the winning revision of a document
func (r *Router) getDocument(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	doc, err := r.deps.Registry.GetDoc(req.Context(), vars["collection"], vars["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// putDocument writes a document. With _rev in the body the write is
// optimistic and fails with 409 on a stale revision; without it the
// document is upserted.
func (r *Router) putDocument(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	r.writeDocument(w, req, vars["collection"], vars["id"])
}

// createDocument stores a new document under a generated id
func (r *Router) createDocument(w http.ResponseWriter, req *http.Request) {
	r.writeDocument(w, req, mux.Vars(req)["collection"], uuid.New().String())
}

func (r *Router) writeDocument(w http.ResponseWriter, req *http.Request, collection, id string) {
	var body map[string]interface{}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	principal, _ := middleware.PrincipalFromContext(req.Context())

	rev, _ := body["_rev"].(string)
	delete(body, "_id")
	delete(body, "_rev")

	var (
		saved   *docstore.Document
		created bool
		err     error
	)
	if rev != "" {
		saved, err = r.deps.Registry.Put(req.Context(), principal, collection, &docstore.Document{ID: id, Rev: rev, Body: body})
	} else {
		saved, created, err = r.deps.Registry.Upsert(req.Context(), principal, collection, id, body)
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]interface{}{
		"ok":  true,
		"id":  saved.ID,
		"rev": saved.Rev,
	})
}
