// Package registry owns the named collections of a node. It is an explicit
// object handed to the pipeline, the replication manager and the HTTP layer.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xelth-com/dairysync/internal/config"
	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/events"
	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/remote"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrPermissionDenied  = errors.New("permission denied")
)

// Known collection names
const (
	MilkData = "milkData"
	Farmers  = "farmers"
	Centres  = "centres"
	Payments = "payments"
	Fodder   = "fodder"
	Settings = "settings"
	Users    = "users"
)

// DefaultCollections lists every collection a node opens by default
var DefaultCollections = []string{MilkData, Farmers, Centres, Payments, Fodder, Settings, Users}

// protected maps collections to the capability a write requires.
// Pricing lives in settings.
var protected = map[string]string{
	Centres:  models.CapabilityManageCentres,
	Settings: models.CapabilityManagePricing,
	Users:    models.CapabilityManageUsers,
}

// Authorizer answers permission questions for protected writes
type Authorizer interface {
	HasPermission(p models.Principal, capability string) bool
}

// Collection is one named collection. Local is always present; Remote is nil
// when no endpoint is configured. Replication state is kept by the manager.
type Collection struct {
	Name   string
	Local  *docstore.Store
	Remote *remote.Client
	// Capability required to write, empty when unprotected
	Capability string
}

// Registry holds the collections of one node
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection

	auth      Authorizer
	publisher events.Publisher
}

// New creates an empty registry. publisher may be nil.
func New(auth Authorizer, publisher events.Publisher) *Registry {
	return &Registry{
		collections: make(map[string]*Collection),
		auth:        auth,
		publisher:   publisher,
	}
}

// Open creates a registry with a badger store per collection under
// cfg.DataDir and a remote handle per collection when cfg.Remote.URL is set.
func Open(cfg *config.Config, names []string, auth Authorizer, publisher events.Publisher) (*Registry, error) {
	if len(names) == 0 {
		names = DefaultCollections
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	r := New(auth, publisher)
	for _, name := range names {
		backend, err := docstore.OpenBadger(filepath.Join(cfg.DataDir, name))
		if err != nil {
			r.Close()
			return nil, err
		}

		c := &Collection{Name: name, Local: docstore.New(name, backend)}
		if cfg.Remote.URL != "" {
			c.Remote, err = remote.New(cfg.Remote.URL, name,
				remote.WithBasicAuth(cfg.Remote.Username, cfg.Remote.Password))
			if err != nil {
				c.Local.Close()
				r.Close()
				return nil, err
			}
		}
		if err := r.Add(c); err != nil {
			c.Local.Close()
			r.Close()
			return nil, err
		}
	}

	log.Printf("📦 Opened %d collections in %s", len(names), cfg.DataDir)
	if cfg.Remote.URL == "" {
		log.Println("⚠️ REMOTE_URL not set, collections stay offline")
	}
	return r, nil
}

// Add registers a collection; protected names get their capability filled in
func (r *Registry) Add(c *Collection) error {
	if c == nil || c.Name == "" || c.Local == nil {
		return fmt.Errorf("collection needs a name and a local store")
	}
	if c.Capability == "" {
		c.Capability = protected[c.Name]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collections[c.Name]; ok {
		return fmt.Errorf("collection %s already registered", c.Name)
	}
	r.collections[c.Name] = c
	return nil
}

// Get returns a collection by name
func (r *Registry) Get(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

// Names returns the registered collection names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every local store
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, c := range r.collections {
		if err := c.Local.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.collections = make(map[string]*Collection)
	return errors.Join(errs...)
}

// Publish forwards an event to the broadcaster, if any
func (r *Registry) Publish(e events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(e)
	}
}

func (r *Registry) authorize(p models.Principal, c *Collection) error {
	if c.Capability == "" {
		return nil
	}
	if r.auth == nil || p.IsZero() || !r.auth.HasPermission(p, c.Capability) {
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, c.Name, c.Capability)
	}
	return nil
}

// GetDoc reads the winning revision of a document
func (r *Registry) GetDoc(ctx context.Context, collection, id string) (*docstore.Document, error) {
	c, err := r.Get(collection)
	if err != nil {
		return nil, err
	}
	return c.Local.Get(ctx, id)
}

// Put writes doc optimistically: doc.Rev must be the current revision, or
// empty for a new document. Stale revisions fail with docstore.ErrConflict.
func (r *Registry) Put(ctx context.Context, p models.Principal, collection string, doc *docstore.Document) (*docstore.Document, error) {
	c, err := r.Get(collection)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(p, c); err != nil {
		return nil, err
	}

	action := events.ActionUpdated
	if doc.Rev == "" {
		action = events.ActionCreated
	}

	saved, err := c.Local.Put(ctx, doc)
	if err != nil {
		return nil, err
	}
	r.Publish(events.DataChange(collection, action, saved))
	return saved, nil
}

// Upsert writes body under id, reusing the current revision when the
// document exists so the write updates it instead of conflicting.
// The returned bool reports whether the document was created.
func (r *Registry) Upsert(ctx context.Context, p models.Principal, collection, id string, body map[string]interface{}) (*docstore.Document, bool, error) {
	c, err := r.Get(collection)
	if err != nil {
		return nil, false, err
	}
	if err := r.authorize(p, c); err != nil {
		return nil, false, err
	}

	// a concurrent writer can move the revision between read and write
	const attempts = 3
	for i := 0; ; i++ {
		doc := &docstore.Document{ID: id, Body: body}
		existing, err := c.Local.Get(ctx, id)
		switch {
		case err == nil:
			doc.Rev = existing.Rev
		case !errors.Is(err, docstore.ErrNotFound):
			return nil, false, err
		}

		saved, err := c.Local.Put(ctx, doc)
		if errors.Is(err, docstore.ErrConflict) && i < attempts-1 {
			continue
		}
		if err != nil {
			return nil, false, err
		}

		created := doc.Rev == ""
		action := events.ActionUpsert
		if created {
			action = events.ActionCreated
		}
		r.Publish(events.DataChange(collection, action, saved))
		return saved, created, nil
	}
}
