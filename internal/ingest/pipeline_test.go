package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/eip"
	"github.com/xelth-com/dairysync/internal/events"
	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/registry"
)

const exportHeader = "10072025094915000000000027"

func exportLine(farmer string) string {
	line := farmer + "M036079150035000106541720000"
	return line + strings.Repeat("0", eip.DefaultMinLineLength-len(line))
}

func sampleExport(farmers ...string) string {
	lines := []string{exportHeader}
	for _, f := range farmers {
		lines = append(lines, exportLine(f))
	}
	return strings.Join(lines, "\n") + "\n"
}

func newTestRegistry(t *testing.T, bus *events.Bus, names ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(nil, bus)
	for _, name := range names {
		backend, err := docstore.OpenBadger("")
		if err != nil {
			t.Fatalf("Failed to open store: %v", err)
		}
		if err := reg.Add(&registry.Collection{Name: name, Local: docstore.New(name, backend)}); err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPipeline_Ingest(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil, registry.MilkData)
	stamp := time.Date(2025, 7, 10, 10, 0, 0, 0, time.UTC)
	p := NewPipeline(reg, WithClock(fixedClock(stamp)))

	clerk := models.Principal{ID: "u7", Role: "operator", EmployeeID: "E-42"}
	res, err := p.Ingest(ctx, clerk, sampleExport("009", "010"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Persisted != 2 || res.Failed != 0 {
		t.Fatalf("Expected 2 persisted, got %+v", res)
	}

	doc, err := reg.GetDoc(ctx, registry.MilkData, "2025-07-10|27|009|morning")
	if err != nil {
		t.Fatalf("Record not stored: %v", err)
	}
	if doc.Body["employeeId"] != "E-42" {
		t.Errorf("Expected employeeId E-42, got %v", doc.Body["employeeId"])
	}
	if doc.Body["timestamp"] != stamp.Format(time.RFC3339) {
		t.Errorf("Expected timestamp %s, got %v", stamp.Format(time.RFC3339), doc.Body["timestamp"])
	}
	if doc.Body["quantity"] != 3.6 {
		t.Errorf("Expected quantity 3.6, got %v", doc.Body["quantity"])
	}
}

func TestPipeline_ReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	defer bus.Close()
	reg := newTestRegistry(t, bus, registry.MilkData)
	p := NewPipeline(reg)
	text := sampleExport("009", "010", "011")

	if _, err := p.Ingest(ctx, models.Principal{}, text); err != nil {
		t.Fatalf("First ingest failed: %v", err)
	}

	sub := bus.Subscribe(16)
	res, err := p.Ingest(ctx, models.Principal{}, text)
	if err != nil {
		t.Fatalf("Second ingest failed: %v", err)
	}
	if res.Persisted != 3 {
		t.Errorf("Expected 3 persisted on re-ingest, got %d", res.Persisted)
	}

	c, _ := reg.Get(registry.MilkData)
	info, err := c.Local.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.DocCount != 3 {
		t.Errorf("Expected 3 documents after re-ingest, got %d", info.DocCount)
	}

	changes, err := c.Local.Changes(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	for _, ch := range changes {
		if len(ch.Conflicts) != 0 {
			t.Errorf("Re-ingest left conflicts on %s: %v", ch.ID, ch.Conflicts)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case e := <-sub:
			if e.Type != events.TypeDataChange || e.Action != events.ActionUpsert {
				t.Errorf("Expected upsert dataChange, got %s/%s", e.Type, e.Action)
			}
		case <-time.After(time.Second):
			t.Fatalf("Missing event %d", i)
		}
	}
}

func TestPipeline_WarningsPassThrough(t *testing.T) {
	reg := newTestRegistry(t, nil, registry.MilkData)
	p := NewPipeline(reg)

	text := exportHeader + "\nshort\n" + exportLine("009") + "\n"
	res, err := p.Ingest(context.Background(), models.Principal{}, text)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Persisted != 1 {
		t.Errorf("Expected 1 persisted, got %d", res.Persisted)
	}
	if len(res.Warnings) == 0 {
		t.Error("Expected a warning for the short line")
	}
}

func TestPipeline_BadHeaderPersistsNothing(t *testing.T) {
	reg := newTestRegistry(t, nil, registry.MilkData)
	p := NewPipeline(reg)

	res, err := p.Ingest(context.Background(), models.Principal{}, "garbage\n"+exportLine("009"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Persisted != 0 || len(res.Warnings) == 0 {
		t.Errorf("Expected nothing persisted and a warning, got %+v", res)
	}
}

func TestPipeline_UnknownCollection(t *testing.T) {
	reg := newTestRegistry(t, nil, registry.Farmers)
	p := NewPipeline(reg)

	_, err := p.Ingest(context.Background(), models.Principal{}, sampleExport("009"))
	if !errors.Is(err, registry.ErrUnknownCollection) {
		t.Errorf("Expected ErrUnknownCollection, got %v", err)
	}
}
