package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/mux"
	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/middleware"
	"github.com/xelth-com/dairysync/internal/remote"
)

const (
	maxBodySize        = 32 << 20
	defaultLongpoll    = 30 * time.Second
	maxLongpoll        = 2 * time.Minute
	defaultChangeLimit = 1000
)

// Router serves the replication protocol for a set of databases
type Router struct {
	*mux.Router
	dbs Databases
}

// NewRouter creates the endpoint router. checker may be nil to disable
// authentication (tests, trusted loopback).
func NewRouter(dbs Databases, checker middleware.CredentialChecker) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		dbs:    dbs,
	}

	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	db := r.PathPrefix("/{db}").Subrouter()
	if checker != nil {
		db.Use(middleware.BasicAuth("dairysync", checker))
	}
	db.HandleFunc("", r.info).Methods("GET")
	db.HandleFunc("/_changes", r.changes).Methods("GET")
	db.HandleFunc("/_revs_diff", r.revsDiff).Methods("POST")
	db.HandleFunc("/_bulk_get", r.bulkGet).Methods("POST")
	db.HandleFunc("/_bulk_docs", r.bulkDocs).Methods("POST")

	return r
}

func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "sync-endpoint",
	})
}

func (r *Router) store(w http.ResponseWriter, req *http.Request) (*docstore.Store, bool) {
	st, err := r.dbs.Database(mux.Vars(req)["db"])
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	return st, true
}

func (r *Router) info(w http.ResponseWriter, req *http.Request) {
	st, ok := r.store(w, req)
	if !ok {
		return
	}
	info, err := st.Info(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// changes serves the feed; with feed=longpoll an empty result waits for the
// next commit or the timeout (milliseconds).
func (r *Router) changes(w http.ResponseWriter, req *http.Request) {
	st, ok := r.store(w, req)
	if !ok {
		return
	}

	q := req.URL.Query()
	since, err := parseUint(q.Get("since"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid since")
		return
	}
	limit := defaultChangeLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
	}

	var deadline <-chan time.Time
	if q.Get("feed") == "longpoll" {
		wait := defaultLongpoll
		if v := q.Get("timeout"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms < 0 {
				respondError(w, http.StatusBadRequest, "bad_request", "invalid timeout")
				return
			}
			wait = time.Duration(ms) * time.Millisecond
		}
		if wait > maxLongpoll {
			wait = maxLongpoll
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		changed := st.Changed()
		results, err := st.Changes(req.Context(), since, limit)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if len(results) > 0 || deadline == nil {
			respondChanges(w, results, since)
			return
		}

		select {
		case <-changed:
		case <-deadline:
			respondChanges(w, results, since)
			return
		case <-req.Context().Done():
			return
		}
	}
}

func respondChanges(w http.ResponseWriter, results []docstore.Change, since uint64) {
	last := since
	if len(results) > 0 {
		last = results[len(results)-1].Seq
	}
	if results == nil {
		results = []docstore.Change{}
	}
	respondJSON(w, http.StatusOK, remote.ChangesResponse{Results: results, LastSeq: last})
}

func (r *Router) revsDiff(w http.ResponseWriter, req *http.Request) {
	st, ok := r.store(w, req)
	if !ok {
		return
	}
	var in map[string][]string
	if !decodeBody(w, req, &in) {
		return
	}

	missing, err := st.RevsDiff(req.Context(), in)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make(map[string]remote.RevsDiffEntry, len(missing))
	for id, revs := range missing {
		out[id] = remote.RevsDiffEntry{Missing: revs}
	}
	respondJSON(w, http.StatusOK, out)
}

func (r *Router) bulkGet(w http.ResponseWriter, req *http.Request) {
	st, ok := r.store(w, req)
	if !ok {
		return
	}
	var in remote.BulkGetRequest
	if !decodeBody(w, req, &in) {
		return
	}

	revs, err := st.BulkGet(req.Context(), in.Docs)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, remote.BulkGetResponse{Results: revs})
}

func (r *Router) bulkDocs(w http.ResponseWriter, req *http.Request) {
	st, ok := r.store(w, req)
	if !ok {
		return
	}
	var in remote.BulkDocsRequest
	if !decodeBody(w, req, &in) {
		return
	}
	if in.NewEdits {
		respondError(w, http.StatusBadRequest, "bad_request", "only new_edits=false is supported")
		return
	}

	if err := st.BulkDocs(req.Context(), in.Docs); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

// decodeBody reads a JSON body, optionally snappy-compressed
func decodeBody(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	if req.Header.Get("Content-Encoding") == remote.SnappyEncoding {
		if body, err = snappy.Decode(nil, body); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "invalid snappy body")
			return false
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func parseUint(s string) (uint64, error) {
	if s == "" || s == "now" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, docstore.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, docstore.ErrBadRequest):
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		log.Printf("❌ Endpoint: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", fmt.Sprint(err))
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, reason string) {
	respondJSON(w, status, remote.ErrorResponse{Error: code, Reason: reason})
}
