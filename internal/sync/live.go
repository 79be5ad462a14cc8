package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/dairysync/internal/registry"
)

// liveSync is the handle of one collection's continuous replication:
// a push goroutine and a pull goroutine sharing one context.
type liveSync struct {
	m          *Manager
	collection *registry.Collection
	pushID     string
	pullID     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newLiveSync(parent context.Context, m *Manager, c *registry.Collection) *liveSync {
	ctx, cancel := context.WithCancel(parent)
	return &liveSync{
		m:          m,
		collection: c,
		pushID:     CheckpointID(DirectionPush, c.Remote.URL()),
		pullID:     CheckpointID(DirectionPull, c.Remote.URL()),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *liveSync) run() {
	h.wg.Add(2)
	go h.pushLoop()
	go h.pullLoop()
}

// stop cancels both loops and waits for them
func (h *liveSync) stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *liveSync) fail(err error) {
	if h.ctx.Err() != nil {
		return
	}
	h.once.Do(func() { h.m.onError(h, err) })
}

// pushLoop replicates local -> remote after every local commit. The
// heartbeat pings the remote so a dead link is noticed while idle.
func (h *liveSync) pushLoop() {
	defer h.wg.Done()
	local, rem := h.collection.Local, h.collection.Remote
	ticker := time.NewTicker(h.m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		wait := local.Changed()

		err := h.retry(func() error {
			res, err := Replicate(h.ctx, local, rem, local, h.pushID, h.m.opts.BatchSize)
			if res.DocsWritten > 0 {
				log.Printf("⬆️ %s: pushed %d revisions", h.collection.Name, res.DocsWritten)
			}
			return err
		})
		if err != nil {
			h.fail(fmt.Errorf("push: %w", err))
			return
		}

		select {
		case <-wait:
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(h.ctx, h.m.opts.ProbeTimeout)
			_, err := rem.Info(pingCtx)
			cancel()
			if err != nil {
				h.fail(fmt.Errorf("heartbeat: %w", err))
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

// pullLoop replicates remote -> local, then long-polls the remote feed
// until it has something new or the heartbeat interval passes.
func (h *liveSync) pullLoop() {
	defer h.wg.Done()
	local, rem := h.collection.Local, h.collection.Remote

	for {
		var since uint64
		err := h.retry(func() error {
			res, err := Replicate(h.ctx, rem, local, local, h.pullID, h.m.opts.BatchSize)
			if res.DocsWritten > 0 {
				log.Printf("⬇️ %s: pulled %d revisions", h.collection.Name, res.DocsWritten)
			}
			since = res.LastSeq
			return err
		})
		if err != nil {
			h.fail(fmt.Errorf("pull: %w", err))
			return
		}

		err = h.retry(func() error {
			_, err := rem.WaitChanges(h.ctx, since, 1, h.m.opts.HeartbeatInterval)
			return err
		})
		if err != nil {
			h.fail(fmt.Errorf("longpoll: %w", err))
			return
		}
		if h.ctx.Err() != nil {
			return
		}
	}
}

// retry runs fn up to MaxRetries+1 times with exponential backoff
// (base, 2*base, 4*base...). Cancellation ends it without an error.
func (h *liveSync) retry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= h.m.opts.MaxRetries; attempt++ {
		if err = fn(); err == nil || h.ctx.Err() != nil {
			return nil
		}
		if attempt == h.m.opts.MaxRetries {
			break
		}

		delay := h.m.opts.RetryBaseDelay * time.Duration(1<<uint(attempt))
		log.Printf("⚠️ %s: %v, retrying in %v...", h.collection.Name, err, delay)
		select {
		case <-time.After(delay):
		case <-h.ctx.Done():
			return nil
		}
	}
	return err
}
