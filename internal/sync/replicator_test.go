package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/xelth-com/dairysync/internal/docstore"
)

func TestReplicate_Converges(t *testing.T) {
	ctx := context.Background()
	e := newTestEndpoint(t, "farmers")
	rem := e.client(t, "farmers")
	a := newMemStore(t, "farmers")
	b := newMemStore(t, "farmers")

	for i := 0; i < 25; i++ {
		a.Put(ctx, &docstore.Document{ID: fmt.Sprintf("f%02d", i), Body: map[string]interface{}{"n": i}})
	}

	push, err := Replicate(ctx, a, rem, a, CheckpointID(DirectionPush, rem.URL()), 10)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if push.DocsWritten != 25 || push.LastSeq != 25 {
		t.Errorf("Unexpected push result: %+v", push)
	}

	pull, err := Replicate(ctx, rem, b, b, CheckpointID(DirectionPull, rem.URL()), 10)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if pull.DocsWritten != 25 {
		t.Errorf("Unexpected pull result: %+v", pull)
	}

	infoB, _ := b.Info(ctx)
	if infoB.DocCount != 25 {
		t.Errorf("Expected 25 docs on b, got %d", infoB.DocCount)
	}

	again, err := Replicate(ctx, a, rem, a, CheckpointID(DirectionPush, rem.URL()), 10)
	if err != nil {
		t.Fatalf("Second push failed: %v", err)
	}
	if again.ChangesRead != 0 || again.DocsWritten != 0 {
		t.Errorf("Second push should be a no-op, got %+v", again)
	}
}

func TestReplicate_WithoutCheckpointWritesNothingNew(t *testing.T) {
	ctx := context.Background()
	a := newMemStore(t, "fodder")
	b := newMemStore(t, "fodder")
	a.Put(ctx, &docstore.Document{ID: "x", Body: map[string]interface{}{"kg": 1}})

	if _, err := Replicate(ctx, a, b, a, "cp-1", 10); err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	// a fresh checkpoint re-reads the feed, but revs_diff filters everything
	res, err := Replicate(ctx, a, b, a, "cp-2", 10)
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if res.ChangesRead != 1 || res.DocsWritten != 0 {
		t.Errorf("Expected one change read and nothing written, got %+v", res)
	}
	if seq, _ := b.UpdateSeq(ctx); seq != 1 {
		t.Errorf("Target should have a single commit, got seq %d", seq)
	}
}

func TestReplicate_ConflictSurfacesAndResolves(t *testing.T) {
	ctx := context.Background()
	e := newTestEndpoint(t, "milkData")
	rem := e.client(t, "milkData")
	a := newMemStore(t, "milkData")
	b := newMemStore(t, "milkData")

	push := func(s *docstore.Store, name string) {
		t.Helper()
		if _, err := Replicate(ctx, s, rem, s, "push-"+name, 10); err != nil {
			t.Fatalf("Push from %s failed: %v", name, err)
		}
	}
	pull := func(s *docstore.Store, name string) {
		t.Helper()
		if _, err := Replicate(ctx, rem, s, s, "pull-"+name, 10); err != nil {
			t.Fatalf("Pull into %s failed: %v", name, err)
		}
	}

	base, _ := a.Put(ctx, &docstore.Document{ID: "r1", Body: map[string]interface{}{"quantity": 1.0, "timestamp": "2024-03-15T06:00:00Z"}})
	push(a, "a")
	pull(b, "b")

	// both devices edit while offline; b's edit is later
	a.Put(ctx, &docstore.Document{ID: "r1", Rev: base.Rev, Body: map[string]interface{}{"quantity": 2.0, "timestamp": "2024-03-15T07:00:00Z"}})
	b.Put(ctx, &docstore.Document{ID: "r1", Rev: base.Rev, Body: map[string]interface{}{"quantity": 3.0, "timestamp": "2024-03-15T08:00:00Z"}})
	push(a, "a")
	push(b, "b")
	pull(a, "a")

	doc, err := a.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(doc.Conflicts) != 1 {
		t.Fatalf("Expected a conflict on a, got %+v", doc)
	}

	res, err := NewConflictResolver("milkData", a, nil).Resolve(ctx, "r1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Candidates != 2 {
		t.Errorf("Expected 2 candidates, got %d", res.Candidates)
	}

	resolved, _ := a.Get(ctx, "r1")
	if resolved.Body["quantity"] != 3.0 || len(resolved.Conflicts) != 0 {
		t.Errorf("Expected the later edit without conflicts, got %+v", resolved)
	}

	// the resolution converges everywhere
	push(a, "a")
	pull(b, "b")
	onB, _ := b.Get(ctx, "r1")
	if onB.Rev != resolved.Rev || len(onB.Conflicts) != 0 {
		t.Errorf("b did not converge: %+v vs %s", onB, resolved.Rev)
	}
}
