package remote

import "github.com/xelth-com/dairysync/internal/docstore"

// Request and response bodies of the replication endpoint. The server side
// (internal/endpoint) encodes the same types.

// ChangesResponse is returned by GET /{db}/_changes
type ChangesResponse struct {
	Results []docstore.Change `json:"results"`
	LastSeq uint64            `json:"last_seq"`
}

// RevsDiffEntry lists the revisions of one document the server lacks
type RevsDiffEntry struct {
	Missing []string `json:"missing"`
}

// BulkGetRequest is the body of POST /{db}/_bulk_get
type BulkGetRequest struct {
	Docs []docstore.RevRef `json:"docs"`
}

// BulkGetResponse is returned by POST /{db}/_bulk_get
type BulkGetResponse struct {
	Results []docstore.Revision `json:"results"`
}

// BulkDocsRequest is the body of POST /{db}/_bulk_docs.
// NewEdits must be false: revisions are stored as-is.
type BulkDocsRequest struct {
	Docs     []docstore.Revision `json:"docs"`
	NewEdits bool                `json:"new_edits"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// SnappyEncoding is the Content-Encoding value for snappy block bodies
const SnappyEncoding = "snappy"
