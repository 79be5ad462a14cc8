package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xelth-com/dairysync/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormStore(t *testing.T, collection string) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.SyncDocument{}, &models.SyncSequence{}, &models.SyncLocalDoc{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(collection, NewGormBackend(db, collection))
}

func TestGormBackend_PutGetChanges(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t, "milkData")

	d1, err := s.Put(ctx, &Document{ID: "r1", Body: map[string]interface{}{"quantity": 3.6}})
	if err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if _, err := s.Put(ctx, &Document{ID: "r2", Body: map[string]interface{}{"quantity": 1.2}}); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if _, err := s.Put(ctx, &Document{ID: "r1", Rev: d1.Rev, Body: map[string]interface{}{"quantity": 4.0}}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Body["quantity"] != 4.0 {
		t.Errorf("Expected quantity 4.0, got %v", got.Body["quantity"])
	}

	changes, err := s.Changes(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Failed to read changes: %v", err)
	}
	if len(changes) != 2 || changes[0].ID != "r2" || changes[1].ID != "r1" {
		t.Errorf("Unexpected changes: %+v", changes)
	}

	info, _ := s.Info(ctx)
	if info.DocCount != 2 || info.UpdateSeq != 3 {
		t.Errorf("Unexpected info: %+v", info)
	}
}

func TestGormBackend_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.SyncDocument{}, &models.SyncSequence{}, &models.SyncLocalDoc{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	farmers := New("farmers", NewGormBackend(db, "farmers"))
	centres := New("centres", NewGormBackend(db, "centres"))

	farmers.Put(ctx, &Document{ID: "same", Body: map[string]interface{}{"kind": "farmer"}})
	if _, err := centres.Get(ctx, "same"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound across collections, got %v", err)
	}
	if seq, _ := centres.UpdateSeq(ctx); seq != 0 {
		t.Errorf("Sequences should be per collection, got %d", seq)
	}
}

func TestGormBackend_LocalDocs(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t, "settings")

	if err := s.PutLocal(ctx, "cp", []byte(`{"seq":1}`)); err != nil {
		t.Fatalf("Failed to put local: %v", err)
	}
	if err := s.PutLocal(ctx, "cp", []byte(`{"seq":2}`)); err != nil {
		t.Fatalf("Failed to overwrite local: %v", err)
	}
	got, err := s.GetLocal(ctx, "cp")
	if err != nil || string(got) != `{"seq":2}` {
		t.Errorf("Unexpected local doc %q (%v)", got, err)
	}
}
