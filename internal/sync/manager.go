// Package sync keeps every collection of a node replicated with the LAN
// endpoint whenever it is reachable, and collapses write conflicts.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/dairysync/internal/events"
	"github.com/xelth-com/dairysync/internal/registry"
	"golang.org/x/sync/errgroup"
)

var errProbeTimeout = errors.New("probe timed out")

// Manager drives replication for all collections of a registry.
//
// Per collection: UNPROBED -> ONLINE | OFFLINE. ONLINE drops to OFFLINE on
// any replication error, followed by one reconnect attempt after
// ReconnectDelay. The periodic sweep re-probes whatever is still OFFLINE.
type Manager struct {
	reg       *registry.Registry
	publisher events.Publisher
	opts      Options
	status    *StatusMap

	mu         sync.Mutex
	live       map[string]*liveSync
	paused     map[string]bool
	reconnects map[string]*time.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager creates a manager; publisher may be nil
func NewManager(reg *registry.Registry, publisher events.Publisher, opts Options) *Manager {
	return &Manager{
		reg:        reg,
		publisher:  publisher,
		opts:       opts.withDefaults(),
		status:     NewStatusMap(),
		live:       make(map[string]*liveSync),
		paused:     make(map[string]bool),
		reconnects: make(map[string]*time.Timer),
	}
}

// Start probes every collection in parallel, starts live sync for the
// reachable ones and launches the sweep loop. It does not block.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("replication manager already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	log.Printf("🔄 Replication manager starting for %d collections...", len(m.reg.Names()))

	for _, name := range m.reg.Names() {
		name := name
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.connect(name)
		}()
	}

	m.wg.Add(1)
	go m.sweepLoop()
	return nil
}

// Stop cancels every live sync, pending reconnect and the sweep, and waits
// for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	for name, t := range m.reconnects {
		t.Stop()
		delete(m.reconnects, name)
	}
	handles := make([]*liveSync, 0, len(m.live))
	for name, h := range m.live {
		handles = append(handles, h)
		delete(m.live, name)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
	m.wg.Wait()
	log.Println("🛑 Replication manager stopped")
}

// Status returns a snapshot of the per-collection online flags
func (m *Manager) Status() map[string]bool {
	snap := m.status.Snapshot()
	for _, name := range m.reg.Names() {
		if _, ok := snap[name]; !ok {
			snap[name] = false
		}
	}
	return snap
}

// IsOnline reports whether a collection is replicating
func (m *Manager) IsOnline(name string) bool {
	return m.status.Get(name)
}

// IsPaused reports whether replication of a collection was paused
func (m *Manager) IsPaused(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[name]
}

// Probe checks whether the collection's endpoint answers within
// ProbeTimeout and records the result. A probe that loses the race keeps
// running in the background and its answer is dropped.
func (m *Manager) Probe(ctx context.Context, name string) bool {
	c, err := m.reg.Get(name)
	if err != nil || c.Remote == nil {
		return false
	}

	result := make(chan error, 1)
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_, err := c.Remote.Info(probeCtx)
		result <- err
	}()

	timer := time.NewTimer(m.opts.ProbeTimeout)
	defer timer.Stop()

	select {
	case err = <-result:
	case <-timer.C:
		err = errProbeTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	online := err == nil
	if !online {
		log.Printf("📴 %s: endpoint unreachable: %v", name, err)
	}
	m.setStatus(name, online)
	return online
}

// Pause stops replication of one collection until Resume
func (m *Manager) Pause(name string) error {
	if _, err := m.reg.Get(name); err != nil {
		return err
	}

	m.mu.Lock()
	m.paused[name] = true
	if t, ok := m.reconnects[name]; ok {
		t.Stop()
		delete(m.reconnects, name)
	}
	h := m.live[name]
	delete(m.live, name)
	m.mu.Unlock()

	if h != nil {
		h.stop()
	}
	m.setStatus(name, false)
	log.Printf("⏸️ %s: replication paused", name)
	return nil
}

// PauseAll stops replication of every collection (logout)
func (m *Manager) PauseAll() {
	for _, name := range m.reg.Names() {
		m.Pause(name)
	}
}

// Resume lifts a pause and reconnects immediately
func (m *Manager) Resume(name string) error {
	if _, err := m.reg.Get(name); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.paused, name)
	running := m.running
	if running {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	log.Printf("▶️ %s: replication resumed", name)
	if running {
		go func() {
			defer m.wg.Done()
			m.connect(name)
		}()
	}
	return nil
}

// Sweep re-probes every offline, unpaused collection in parallel and starts
// live sync for those that came back.
func (m *Manager) Sweep(ctx context.Context) {
	var candidates []string
	m.mu.Lock()
	for _, name := range m.reg.Names() {
		if m.paused[name] || m.live[name] != nil {
			continue
		}
		if _, pending := m.reconnects[name]; pending {
			continue
		}
		candidates = append(candidates, name)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range candidates {
		name := name
		c, err := m.reg.Get(name)
		if err != nil || c.Remote == nil {
			continue
		}
		g.Go(func() error {
			if m.Probe(gctx, name) {
				m.startLive(name)
			}
			return nil
		})
	}
	g.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(m.ctx)
		case <-m.ctx.Done():
			return
		}
	}
}

// connect probes one collection and goes live when reachable. Collections
// without a remote handle are marked offline without probing.
func (m *Manager) connect(name string) {
	if m.IsPaused(name) {
		return
	}
	c, err := m.reg.Get(name)
	if err != nil {
		return
	}
	if c.Remote == nil {
		m.setStatus(name, false)
		return
	}
	if m.Probe(m.ctx, name) {
		m.startLive(name)
	}
}

func (m *Manager) startLive(name string) {
	c, err := m.reg.Get(name)
	if err != nil || c.Remote == nil {
		return
	}

	m.mu.Lock()
	if m.paused[name] {
		m.mu.Unlock()
		m.setStatus(name, false)
		return
	}
	if !m.running || m.live[name] != nil {
		m.mu.Unlock()
		return
	}
	h := newLiveSync(m.ctx, m, c)
	m.live[name] = h
	m.mu.Unlock()

	m.setStatus(name, true)
	log.Printf("🔗 %s: live sync with %s", name, c.Remote.URL())
	h.run()
}

// onError is called by a live handle when replication fails for good.
// Only the current handle may take the collection offline.
func (m *Manager) onError(h *liveSync, err error) {
	name := h.collection.Name

	m.mu.Lock()
	if m.live[name] != h {
		m.mu.Unlock()
		return
	}
	delete(m.live, name)
	if m.running {
		if _, pending := m.reconnects[name]; !pending && !m.paused[name] {
			m.reconnects[name] = time.AfterFunc(m.opts.ReconnectDelay, func() { m.reconnect(name) })
		}
		// the loops are no longer reachable from Stop; track their exit here
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			h.wg.Wait()
		}()
	}
	m.mu.Unlock()

	h.cancel()
	log.Printf("❌ %s: replication error: %v", name, err)
	m.setStatus(name, false)
}

func (m *Manager) reconnect(name string) {
	m.mu.Lock()
	delete(m.reconnects, name)
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	log.Printf("🔁 %s: reconnecting...", name)
	m.connect(name)
}

func (m *Manager) setStatus(name string, online bool) {
	if m.status.set(name, online) && m.publisher != nil {
		m.publisher.Publish(events.DataSync(name, online))
	}
}
