package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/events"
)

// Fields consulted, in order, to date a candidate body
var timeFields = []string{"timestamp", "updatedAt"}

// ConflictResolution describes how one conflict set was collapsed
type ConflictResolution struct {
	DocID      string    `json:"docId"`
	WinnerRev  string    `json:"winnerRev"`
	NewRev     string    `json:"newRev"`
	Candidates int       `json:"candidates"`
	Chosen     int       `json:"chosen"`
	Reason     string    `json:"reason"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// ConflictResolver watches one collection's change feed and collapses every
// conflict it sees to a single revision by last-write-wins on the document
// body. Field-level merge is not attempted.
type ConflictResolver struct {
	collection string
	store      *docstore.Store
	publisher  events.Publisher
}

// NewConflictResolver creates a resolver; publisher may be nil
func NewConflictResolver(collection string, store *docstore.Store, publisher events.Publisher) *ConflictResolver {
	return &ConflictResolver{
		collection: collection,
		store:      store,
		publisher:  publisher,
	}
}

// Run reacts to changes committed from now on until ctx ends
func (cr *ConflictResolver) Run(ctx context.Context) error {
	since, err := cr.store.UpdateSeq(ctx)
	if err != nil {
		return fmt.Errorf("read update seq: %w", err)
	}
	return cr.RunSince(ctx, since)
}

// RunSince reacts to changes committed after since until ctx ends. Read
// since before replication starts so nothing pulled in between is missed.
func (cr *ConflictResolver) RunSince(ctx context.Context, since uint64) error {
	for change := range cr.store.Watch(ctx, since) {
		if len(change.Conflicts) == 0 {
			continue
		}
		if _, err := cr.Resolve(ctx, change.ID); err != nil {
			if errors.Is(err, docstore.ErrConflict) {
				// the winner moved; the commit that moved it is next in the feed
				log.Printf("🔀 %s/%s: winner moved during resolution", cr.collection, change.ID)
				continue
			}
			log.Printf("⚠️ %s/%s: conflict resolution failed: %v", cr.collection, change.ID, err)
		}
	}
	return ctx.Err()
}

// Resolve collapses the conflicts of one document. It returns nil when the
// document has nothing to resolve.
func (cr *ConflictResolver) Resolve(ctx context.Context, id string) (*ConflictResolution, error) {
	doc, err := cr.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(doc.Conflicts) == 0 {
		return nil, nil
	}

	candidates := []map[string]interface{}{doc.Body}
	for _, rev := range doc.Conflicts {
		other, err := cr.store.GetRev(ctx, id, rev)
		if err != nil {
			log.Printf("⚠️ %s/%s: cannot load revision %s: %v", cr.collection, id, rev, err)
			continue
		}
		candidates = append(candidates, other.Body)
	}

	chosen, reason := PickLatest(candidates)
	saved, err := cr.store.ResolveConflicts(ctx, id, doc.Rev, candidates[chosen])
	if err != nil {
		return nil, err
	}

	res := &ConflictResolution{
		DocID:      id,
		WinnerRev:  doc.Rev,
		NewRev:     saved.Rev,
		Candidates: len(candidates),
		Chosen:     chosen,
		Reason:     reason,
		ResolvedAt: time.Now().UTC(),
	}
	log.Printf("✅ %s/%s: resolved %d revisions (%s)", cr.collection, id, len(candidates), reason)

	if cr.publisher != nil {
		cr.publisher.Publish(events.DataChange(cr.collection, events.ActionResolved, saved))
	}
	return res, nil
}

// PickLatest returns the index of the candidate with the latest time, taken
// from "timestamp", else "updatedAt", else the epoch. Ties keep the earlier
// candidate.
func PickLatest(candidates []map[string]interface{}) (int, string) {
	best, bestTime, bestField := 0, time.Time{}, ""
	for i, body := range candidates {
		t, field := recordTime(body)
		if i == 0 || t.After(bestTime) {
			best, bestTime, bestField = i, t, field
		}
	}
	if bestField == "" {
		return best, "no time field, kept current winner"
	}
	return best, "latest " + bestField
}

// recordTime reads the first usable time field of a body
func recordTime(body map[string]interface{}) (time.Time, string) {
	for _, field := range timeFields {
		if t, ok := parseTime(body[field]); ok {
			return t, field
		}
	}
	return time.Unix(0, 0).UTC(), ""
}

// parseTime accepts RFC 3339 strings, YYYY-MM-DD strings and Unix
// milliseconds.
func parseTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return time.UnixMilli(int64(x)).UTC(), true
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return time.UnixMilli(n).UTC(), true
		}
	case int64:
		return time.UnixMilli(x).UTC(), true
	case int:
		return time.UnixMilli(int64(x)).UTC(), true
	}
	return time.Time{}, false
}
