package handlers

import (
	"io"
	"net/http"

	"github.com/xelth-com/dairysync/internal/middleware"
)

const maxExportSize = 8 << 20

// ingestExport decodes a raw EIP export from the request body and upserts
// its records on behalf of the caller
func (r *Router) ingestExport(w http.ResponseWriter, req *http.Request) {
	if r.deps.Pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "Ingest is not enabled")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxExportSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Could not read export")
		return
	}

	principal, _ := middleware.PrincipalFromContext(req.Context())
	res, err := r.deps.Pipeline.Ingest(req.Context(), principal, string(data))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
