// Package endpoint is the server side of replication: the LAN sync endpoint
// that nodes push to and pull from.
package endpoint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xelth-com/dairysync/internal/docstore"
	"gorm.io/gorm"
)

// Databases resolves a database name from the URL to a store
type Databases interface {
	Database(name string) (*docstore.Store, error)
}

// StoreSet serves a fixed set of stores, e.g. in-memory ones in tests
type StoreSet map[string]*docstore.Store

// Database implements Databases
func (s StoreSet) Database(name string) (*docstore.Store, error) {
	if st, ok := s[name]; ok {
		return st, nil
	}
	return nil, fmt.Errorf("%w: database %s", docstore.ErrNotFound, name)
}

// GormDatabases serves one gorm-backed store per allowed collection,
// created on first use. The stores share a connection pool.
type GormDatabases struct {
	db      *gorm.DB
	allowed map[string]bool

	mu     sync.Mutex
	stores map[string]*docstore.Store
}

// NewGormDatabases creates the set; names limits which databases exist
func NewGormDatabases(db *gorm.DB, names []string) *GormDatabases {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return &GormDatabases{
		db:      db,
		allowed: allowed,
		stores:  make(map[string]*docstore.Store),
	}
}

// Database implements Databases
func (g *GormDatabases) Database(name string) (*docstore.Store, error) {
	if !g.allowed[name] || strings.HasPrefix(name, "_") {
		return nil, fmt.Errorf("%w: database %s", docstore.ErrNotFound, name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stores[name]
	if !ok {
		st = docstore.New(name, docstore.NewGormBackend(g.db, name))
		g.stores[name] = st
	}
	return st, nil
}
