package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/registry"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestInbox_Scan(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	reg := newTestRegistry(t, nil, registry.MilkData)
	in := NewInbox(dir, 0, NewPipeline(reg), models.Principal{ID: "inbox", Role: "system"})

	writeFile(t, filepath.Join(dir, "a.eip"), sampleExport("009"))
	writeFile(t, filepath.Join(dir, "b.TXT"), sampleExport("010"))
	writeFile(t, filepath.Join(dir, "notes.md"), "ignored")

	if n := in.Scan(ctx); n != 2 {
		t.Fatalf("Expected 2 files handled, got %d", n)
	}

	for _, name := range []string{"a.eip", "b.TXT"} {
		if _, err := os.Stat(filepath.Join(dir, processedDir, name)); err != nil {
			t.Errorf("Expected %s in processed/: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.md")); err != nil {
		t.Errorf("Non-export file should stay put: %v", err)
	}

	for _, id := range []string{"2025-07-10|27|009|morning", "2025-07-10|27|010|morning"} {
		if _, err := reg.GetDoc(ctx, registry.MilkData, id); err != nil {
			t.Errorf("Record %s not stored: %v", id, err)
		}
	}

	if n := in.Scan(ctx); n != 0 {
		t.Errorf("Second scan should find nothing, got %d", n)
	}
}

func TestInbox_UnknownCollectionGoesToFailed(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	reg := newTestRegistry(t, nil, registry.Farmers)
	in := NewInbox(dir, 0, NewPipeline(reg), models.Principal{})
	writeFile(t, filepath.Join(dir, "a.eip"), sampleExport("009"))

	in.Scan(context.Background())
	if _, err := os.Stat(filepath.Join(dir, failedDir, "a.eip")); err != nil {
		t.Errorf("Expected a.eip in failed/: %v", err)
	}
}

func TestMoveFile_RenamesOnCollision(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "a.eip"), "old")
	writeFile(t, filepath.Join(src, "a.eip"), "new")

	if err := moveFile(filepath.Join(src, "a.eip"), dst); err != nil {
		t.Fatalf("moveFile failed: %v", err)
	}
	entries, _ := os.ReadDir(dst)
	if len(entries) != 2 {
		t.Errorf("Expected 2 files after collision, got %d", len(entries))
	}
	if data, _ := os.ReadFile(filepath.Join(dst, "a.eip")); string(data) != "old" {
		t.Errorf("Existing file was overwritten")
	}
}
