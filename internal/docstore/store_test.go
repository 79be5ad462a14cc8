package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	backend, err := OpenBadger("")
	if err != nil {
		t.Fatalf("Failed to open in-memory badger: %v", err)
	}
	s := New(name, backend)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "farmers")

	doc, err := s.Put(ctx, &Document{ID: "f1", Body: map[string]interface{}{"name": "Asha"}})
	if err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if generation(doc.Rev) != 1 {
		t.Errorf("Expected generation 1, got %s", doc.Rev)
	}

	got, err := s.Get(ctx, "f1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Body["name"] != "Asha" || got.Rev != doc.Rev {
		t.Errorf("Unexpected document: %+v", got)
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Failed to read info: %v", err)
	}
	if info.DocCount != 1 || info.UpdateSeq != 1 || info.Name != "farmers" {
		t.Errorf("Unexpected info: %+v", info)
	}
}

func TestStore_UpdateRequiresCurrentRev(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "farmers")

	first, err := s.Put(ctx, &Document{ID: "f1", Body: map[string]interface{}{"v": 1}})
	if err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	if _, err := s.Put(ctx, &Document{ID: "f1", Body: map[string]interface{}{"v": 2}}); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict when creating an existing doc, got %v", err)
	}

	second, err := s.Put(ctx, &Document{ID: "f1", Rev: first.Rev, Body: map[string]interface{}{"v": 2}})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if generation(second.Rev) != 2 {
		t.Errorf("Expected generation 2, got %s", second.Rev)
	}

	if _, err := s.Put(ctx, &Document{ID: "f1", Rev: first.Rev, Body: map[string]interface{}{"v": 3}}); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for stale rev, got %v", err)
	}
}

func TestStore_DeleteAndRecreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "fodder")

	doc, _ := s.Put(ctx, &Document{ID: "x", Body: map[string]interface{}{"kg": 10}})
	if _, err := s.Delete(ctx, "x", doc.Rev); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := s.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if info, _ := s.Info(ctx); info.DocCount != 0 {
		t.Errorf("Expected 0 live docs, got %d", info.DocCount)
	}

	again, err := s.Put(ctx, &Document{ID: "x", Body: map[string]interface{}{"kg": 5}})
	if err != nil {
		t.Fatalf("Failed to recreate: %v", err)
	}
	if generation(again.Rev) != 3 {
		t.Errorf("Recreated doc should extend the tombstone, got %s", again.Rev)
	}
}

func TestStore_RejectsReservedIDs(t *testing.T) {
	s := newTestStore(t, "users")
	for _, id := range []string{"", "_design"} {
		if _, err := s.Put(context.Background(), &Document{ID: id}); !errors.Is(err, ErrBadRequest) {
			t.Errorf("Expected ErrBadRequest for %q, got %v", id, err)
		}
	}
}

func TestStore_BulkDocsCreatesConflict(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, "milkData")
	b := newTestStore(t, "milkData")

	base, _ := a.Put(ctx, &Document{ID: "r1", Body: map[string]interface{}{"quantity": 1.0}})
	revs, _ := a.BulkGet(ctx, []RevRef{{ID: "r1", Rev: base.Rev}})
	if err := b.BulkDocs(ctx, revs); err != nil {
		t.Fatalf("Failed to replicate base: %v", err)
	}

	// concurrent edits on both sides
	if _, err := a.Put(ctx, &Document{ID: "r1", Rev: base.Rev, Body: map[string]interface{}{"quantity": 2.0}}); err != nil {
		t.Fatalf("Failed edit on a: %v", err)
	}
	editB, err := b.Put(ctx, &Document{ID: "r1", Rev: base.Rev, Body: map[string]interface{}{"quantity": 3.0}})
	if err != nil {
		t.Fatalf("Failed edit on b: %v", err)
	}

	revs, _ = b.BulkGet(ctx, []RevRef{{ID: "r1", Rev: editB.Rev}})
	if len(revs) != 1 || len(revs[0].History) != 1 || revs[0].History[0] != base.Rev {
		t.Fatalf("Unexpected revision history: %+v", revs)
	}
	if err := a.BulkDocs(ctx, revs); err != nil {
		t.Fatalf("Failed to replicate edit: %v", err)
	}

	doc, err := a.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if len(doc.Conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %v", doc.Conflicts)
	}

	// applying again is a no-op
	seq, _ := a.UpdateSeq(ctx)
	if err := a.BulkDocs(ctx, revs); err != nil {
		t.Fatalf("Failed to re-apply: %v", err)
	}
	if again, _ := a.UpdateSeq(ctx); again != seq {
		t.Errorf("Re-applying known revisions should not commit (seq %d -> %d)", seq, again)
	}
}

func TestStore_ResolveConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "farmers")

	base, _ := s.Put(ctx, &Document{ID: "f1", Body: map[string]interface{}{"v": "base"}})
	other := Revision{
		ID:      "f1",
		Rev:     nextRev(base.Rev, false, []byte(`{"v":"other"}`)),
		Body:    []byte(`{"v":"other"}`),
		History: []string{base.Rev},
	}
	if _, err := s.Put(ctx, &Document{ID: "f1", Rev: base.Rev, Body: map[string]interface{}{"v": "mine"}}); err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	if err := s.BulkDocs(ctx, []Revision{other}); err != nil {
		t.Fatalf("Failed to add branch: %v", err)
	}

	doc, _ := s.Get(ctx, "f1")
	if len(doc.Conflicts) != 1 {
		t.Fatalf("Expected a conflict, got %+v", doc)
	}

	if _, err := s.ResolveConflicts(ctx, "f1", doc.Conflicts[0], map[string]interface{}{"v": "x"}); !errors.Is(err, ErrConflict) {
		t.Errorf("Resolving against a losing rev should fail, got %v", err)
	}

	resolved, err := s.ResolveConflicts(ctx, "f1", doc.Rev, map[string]interface{}{"v": "other", "_conflicts": doc.Conflicts})
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if len(resolved.Conflicts) != 0 {
		t.Errorf("Expected no conflicts after resolution, got %v", resolved.Conflicts)
	}

	got, _ := s.Get(ctx, "f1")
	if got.Body["v"] != "other" || len(got.Conflicts) != 0 {
		t.Errorf("Unexpected resolved document: %+v", got)
	}
	if _, ok := got.Body["_conflicts"]; ok {
		t.Error("Conflict markers should not be stored in the body")
	}
}

func TestStore_RevsDiff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "payments")

	d1, _ := s.Put(ctx, &Document{ID: "p1", Body: map[string]interface{}{"a": 1}})
	d2, _ := s.Put(ctx, &Document{ID: "p1", Rev: d1.Rev, Body: map[string]interface{}{"a": 2}})

	missing, err := s.RevsDiff(ctx, map[string][]string{
		"p1": {d1.Rev, d2.Rev, "3-abc"},
		"p2": {"1-def"},
	})
	if err != nil {
		t.Fatalf("Failed revs diff: %v", err)
	}
	if len(missing["p1"]) != 1 || missing["p1"][0] != "3-abc" {
		t.Errorf("Unexpected missing for p1: %v", missing["p1"])
	}
	if len(missing["p2"]) != 1 {
		t.Errorf("Unexpected missing for p2: %v", missing["p2"])
	}
}

func TestStore_ChangesInCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "centres")

	a, _ := s.Put(ctx, &Document{ID: "a", Body: map[string]interface{}{}})
	s.Put(ctx, &Document{ID: "b", Body: map[string]interface{}{}})
	s.Put(ctx, &Document{ID: "a", Rev: a.Rev, Body: map[string]interface{}{"x": 1}})

	changes, err := s.Changes(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Failed to read changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes (one per doc), got %d", len(changes))
	}
	if changes[0].ID != "b" || changes[1].ID != "a" || changes[1].Seq != 3 {
		t.Errorf("Unexpected change order: %+v", changes)
	}

	later, _ := s.Changes(ctx, 2, 0)
	if len(later) != 1 || later[0].ID != "a" {
		t.Errorf("Unexpected changes since 2: %+v", later)
	}
}

func TestStore_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t, "settings")

	s.Put(ctx, &Document{ID: "before", Body: map[string]interface{}{}})
	since, _ := s.UpdateSeq(ctx)
	feed := s.Watch(ctx, since)

	s.Put(ctx, &Document{ID: "after", Body: map[string]interface{}{"k": "v"}})

	select {
	case c := <-feed:
		if c.ID != "after" {
			t.Errorf("Expected change for 'after', got %s", c.ID)
		}
		if c.Doc == nil || c.Doc.Body["k"] != "v" {
			t.Errorf("Expected body in change, got %+v", c.Doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for change")
	}
}

func TestStore_LocalDocs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "users")

	if _, err := s.GetLocal(ctx, "checkpoint"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.PutLocal(ctx, "checkpoint", []byte(`{"seq":4}`)); err != nil {
		t.Fatalf("Failed to put local: %v", err)
	}
	got, err := s.GetLocal(ctx, "checkpoint")
	if err != nil || string(got) != `{"seq":4}` {
		t.Errorf("Unexpected local doc %q (%v)", got, err)
	}
	if seq, _ := s.UpdateSeq(ctx); seq != 0 {
		t.Errorf("Local docs should not enter the change feed, seq=%d", seq)
	}
}

func TestWinnerIsDeterministic(t *testing.T) {
	e := &Entry{ID: "d", Leaves: []Leaf{
		{Rev: "2-aaa"},
		{Rev: "3-000", Deleted: true},
		{Rev: "2-bbb"},
	}}
	if w := e.winner(); w.Rev != "2-bbb" {
		t.Errorf("Expected 2-bbb to win, got %s", w.Rev)
	}

	e.Leaves = []Leaf{{Rev: "2-bbb"}, {Rev: "10-aaa"}}
	if w := e.winner(); w.Rev != "10-aaa" {
		t.Errorf("Generation should compare numerically, got %s", w.Rev)
	}
}

func TestDocumentJSON(t *testing.T) {
	doc := Document{ID: "x", Rev: "1-a", Body: map[string]interface{}{"n": 1.0}}
	data, err := doc.MarshalJSON()
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var back Document
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if back.ID != "x" || back.Rev != "1-a" || back.Body["n"] != 1.0 {
		t.Errorf("Unexpected document: %+v", back)
	}
	if _, ok := back.Body["_id"]; ok {
		t.Error("Metadata should not leak into the body")
	}
}
