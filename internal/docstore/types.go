// Package docstore is a revisioned JSON document store with a change feed.
// Every document keeps its leaf revisions so that concurrent edits made on
// different devices survive replication as conflicts instead of being lost.
package docstore

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrConflict   = errors.New("document update conflict")
	ErrBadRequest = errors.New("bad document request")
)

// RevsLimit caps the ancestry kept per leaf
const RevsLimit = 100

// Leaf is the tip of one branch of a document's revision tree
type Leaf struct {
	Rev     string          `json:"rev" msgpack:"rev"`
	Deleted bool            `json:"deleted,omitempty" msgpack:"deleted"`
	Body    json.RawMessage `json:"body,omitempty" msgpack:"body"`
	History []string        `json:"history,omitempty" msgpack:"history"` // ancestors, newest first
}

// Entry is the stored form of a document: all of its leaves plus the
// sequence number of its last change.
type Entry struct {
	ID     string `json:"id" msgpack:"id"`
	Seq    uint64 `json:"seq" msgpack:"seq"`
	Leaves []Leaf `json:"leaves" msgpack:"leaves"`
}

// Document is the winning revision of a document as seen by applications
type Document struct {
	ID        string
	Rev       string
	Deleted   bool
	Conflicts []string
	Body      map[string]interface{}
}

// Revision is a single revision with its ancestry, as exchanged by replication
type Revision struct {
	ID      string          `json:"id"`
	Rev     string          `json:"rev"`
	Deleted bool            `json:"deleted,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	History []string        `json:"history,omitempty"`
}

// RevRef names one revision of one document
type RevRef struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Change is one entry of the change feed
type Change struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Rev       string    `json:"rev"`
	Deleted   bool      `json:"deleted,omitempty"`
	Leaves    []string  `json:"leaves"`
	Conflicts []string  `json:"conflicts,omitempty"`
	Doc       *Document `json:"doc,omitempty"`
}

// Info describes a store
type Info struct {
	Name      string `json:"db_name"`
	DocCount  int    `json:"doc_count"`
	UpdateSeq uint64 `json:"update_seq"`
}

// MarshalJSON flattens the body and adds the underscore metadata fields
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Body)+4)
	for k, v := range d.Body {
		out[k] = v
	}
	out["_id"] = d.ID
	if d.Rev != "" {
		out["_rev"] = d.Rev
	}
	if d.Deleted {
		out["_deleted"] = true
	}
	if len(d.Conflicts) > 0 {
		out["_conflicts"] = d.Conflicts
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits underscore metadata fields from the body
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document{Body: make(map[string]interface{}, len(raw))}
	for k, v := range raw {
		switch k {
		case "_id":
			d.ID, _ = v.(string)
		case "_rev":
			d.Rev, _ = v.(string)
		case "_deleted":
			d.Deleted, _ = v.(bool)
		default:
			if !strings.HasPrefix(k, "_") {
				d.Body[k] = v
			}
		}
	}
	return nil
}

// Live reports whether the winning leaf is not a tombstone
func (e *Entry) Live() bool {
	w := e.winner()
	return w != nil && !w.Deleted
}

// winner returns the deterministic winning leaf, nil for an empty entry
func (e *Entry) winner() *Leaf {
	var best *Leaf
	for i := range e.Leaves {
		if best == nil || beats(&e.Leaves[i], best) {
			best = &e.Leaves[i]
		}
	}
	return best
}

// conflicts lists the live leaves that lost to the winner
func (e *Entry) conflicts() []string {
	w := e.winner()
	if w == nil {
		return nil
	}
	var out []string
	for _, l := range e.Leaves {
		if l.Rev != w.Rev && !l.Deleted {
			out = append(out, l.Rev)
		}
	}
	sortRevsDesc(out)
	return out
}

func (e *Entry) leafIndex(rev string) int {
	for i, l := range e.Leaves {
		if l.Rev == rev {
			return i
		}
	}
	return -1
}

// knows reports whether rev is a leaf or an ancestor of one
func (e *Entry) knows(rev string) bool {
	for _, l := range e.Leaves {
		if l.Rev == rev || contains(l.History, rev) {
			return true
		}
	}
	return false
}

func (e *Entry) leafRevs() []string {
	out := make([]string, len(e.Leaves))
	for i, l := range e.Leaves {
		out[i] = l.Rev
	}
	return out
}

func (e *Entry) change() Change {
	w := e.winner()
	c := Change{
		Seq:       e.Seq,
		ID:        e.ID,
		Leaves:    e.leafRevs(),
		Conflicts: e.conflicts(),
	}
	if w != nil {
		c.Rev = w.Rev
		c.Deleted = w.Deleted
	}
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
