package endpoint

import (
	"context"
	"testing"

	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.SyncDocument{}, &models.SyncSequence{}, &models.SyncLocalDoc{}, &models.SyncUser{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func TestUserStore(t *testing.T) {
	users := NewUserStore(openTestDB(t))

	if users.Authenticate("sync", "pw") {
		t.Error("Unknown user should be rejected")
	}
	if err := users.EnsureUser("sync", "pw"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if !users.Authenticate("sync", "pw") {
		t.Error("Expected valid credentials to pass")
	}
	if !users.Authenticate("sync", "pw") {
		t.Error("Expected cached credentials to pass")
	}
	if users.Authenticate("sync", "other") {
		t.Error("Wrong password should be rejected")
	}

	if err := users.EnsureUser("sync", "new-pw"); err != nil {
		t.Fatalf("Password reset failed: %v", err)
	}
	if users.Authenticate("sync", "pw") {
		t.Error("Old password should no longer work")
	}
}

func TestGormDatabases(t *testing.T) {
	dbs := NewGormDatabases(openTestDB(t), []string{"farmers"})

	if _, err := dbs.Database("centres"); err == nil {
		t.Error("Expected error for a database outside the allowed set")
	}
	a, err := dbs.Database("farmers")
	if err != nil {
		t.Fatalf("Database failed: %v", err)
	}
	b, _ := dbs.Database("farmers")
	if a != b {
		t.Error("Expected the same store instance on repeated lookups")
	}

	if _, err := a.Put(context.Background(), &docstore.Document{ID: "f1", Body: map[string]interface{}{"name": "Lakshmi"}}); err != nil {
		t.Errorf("Put through gorm store failed: %v", err)
	}
}
