package sync

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xelth-com/dairysync/internal/docstore"
	"github.com/xelth-com/dairysync/internal/endpoint"
	"github.com/xelth-com/dairysync/internal/registry"
	"github.com/xelth-com/dairysync/internal/remote"
)

func newMemStore(t *testing.T, name string) *docstore.Store {
	t.Helper()
	backend, err := docstore.OpenBadger("")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	s := docstore.New(name, backend)
	t.Cleanup(func() { s.Close() })
	return s
}

// testEndpoint is an in-process sync endpoint that can be switched off
type testEndpoint struct {
	srv    *httptest.Server
	stores endpoint.StoreSet
	down   atomic.Bool
}

func newTestEndpoint(t *testing.T, names ...string) *testEndpoint {
	t.Helper()
	e := &testEndpoint{stores: endpoint.StoreSet{}}
	for _, name := range names {
		e.stores[name] = newMemStore(t, name)
	}
	router := endpoint.NewRouter(e.stores, nil)
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.down.Load() {
			http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *testEndpoint) client(t *testing.T, db string) *remote.Client {
	t.Helper()
	c, err := remote.New(e.srv.URL, db)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

// newNode builds a registry whose collections replicate with e (nil for none)
func newNode(t *testing.T, e *testEndpoint, names ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(nil, nil)
	for _, name := range names {
		c := &registry.Collection{Name: name, Local: newMemStore(t, name)}
		if e != nil {
			c.Remote = e.client(t, name)
		}
		if err := reg.Add(c); err != nil {
			t.Fatalf("Failed to add collection: %v", err)
		}
	}
	return reg
}

func fastOptions() Options {
	return Options{
		ProbeTimeout:      500 * time.Millisecond,
		HeartbeatInterval: 200 * time.Millisecond,
		SweepInterval:     time.Hour,
		ReconnectDelay:    50 * time.Millisecond,
		RetryBaseDelay:    10 * time.Millisecond,
		MaxRetries:        1,
		BatchSize:         10,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
