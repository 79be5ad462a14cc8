package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Backend persists entries and the update sequence of one collection
type Backend interface {
	// Load returns ErrNotFound for unknown ids
	Load(ctx context.Context, id string) (*Entry, error)
	// Commit stores the entry under the next sequence number and sets e.Seq
	Commit(ctx context.Context, e *Entry) (uint64, error)
	// Since returns entries changed after seq, in sequence order
	Since(ctx context.Context, seq uint64, limit int) ([]*Entry, error)
	Count(ctx context.Context) (int, error)
	LastSeq(ctx context.Context) (uint64, error)
	GetLocal(ctx context.Context, id string) ([]byte, error)
	PutLocal(ctx context.Context, id string, body []byte) error
	Close() error
}

const watchBatch = 100

// Store is a revisioned document collection on top of a Backend.
// Writes are serialised; reads go straight to the backend.
type Store struct {
	name    string
	backend Backend

	mu sync.Mutex

	notifyMu sync.Mutex
	notify   chan struct{}
}

// New wraps a backend
func New(name string, backend Backend) *Store {
	return &Store{
		name:    name,
		backend: backend,
		notify:  make(chan struct{}),
	}
}

// Name returns the collection name
func (s *Store) Name() string {
	return s.name
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// Info returns the document count and update sequence
func (s *Store) Info(ctx context.Context) (Info, error) {
	count, err := s.backend.Count(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("count documents: %w", err)
	}
	seq, err := s.backend.LastSeq(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("read update seq: %w", err)
	}
	return Info{Name: s.name, DocCount: count, UpdateSeq: seq}, nil
}

// UpdateSeq returns the sequence number of the last commit
func (s *Store) UpdateSeq(ctx context.Context) (uint64, error) {
	return s.backend.LastSeq(ctx)
}

// Get returns the winning revision; deleted documents are ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	e, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	w := e.winner()
	if w == nil || w.Deleted {
		return nil, ErrNotFound
	}
	return toDocument(e, w)
}

// GetRev returns a specific leaf revision, including conflicting ones
func (s *Store) GetRev(ctx context.Context, id, rev string) (*Document, error) {
	e, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	i := e.leafIndex(rev)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, id, rev)
	}
	doc, err := toDocument(e, &e.Leaves[i])
	if err != nil {
		return nil, err
	}
	doc.Conflicts = nil
	return doc, nil
}

// Put writes a new revision. An empty Rev creates the document (or revives a
// deleted one); otherwise Rev must name a current leaf.
func (s *Store) Put(ctx context.Context, doc *Document) (*Document, error) {
	if err := validateID(doc.ID); err != nil {
		return nil, err
	}
	var body []byte
	if !doc.Deleted {
		var err error
		if body, err = encodeBody(doc.Body); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.loadOrNew(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	idx := -1
	if doc.Rev == "" {
		if w := e.winner(); w != nil {
			if !w.Deleted {
				return nil, fmt.Errorf("%w: %s already exists", ErrConflict, doc.ID)
			}
			idx = e.leafIndex(w.Rev)
		}
	} else {
		if _, _, err := parseRev(doc.Rev); err != nil {
			return nil, err
		}
		if idx = e.leafIndex(doc.Rev); idx < 0 {
			return nil, fmt.Errorf("%w: %s@%s is not current", ErrConflict, doc.ID, doc.Rev)
		}
	}

	var leaf Leaf
	if idx >= 0 {
		leaf = childLeaf(e.Leaves[idx], doc.Deleted, body)
		e.Leaves[idx] = leaf
	} else {
		leaf = Leaf{Rev: nextRev("", doc.Deleted, body), Deleted: doc.Deleted, Body: body}
		e.Leaves = append(e.Leaves, leaf)
	}

	if err := s.commit(ctx, e); err != nil {
		return nil, err
	}
	return toDocument(e, &e.Leaves[e.leafIndex(leaf.Rev)])
}

// Delete writes a tombstone on top of rev
func (s *Store) Delete(ctx context.Context, id, rev string) (*Document, error) {
	if rev == "" {
		return nil, fmt.Errorf("%w: delete requires a revision", ErrBadRequest)
	}
	return s.Put(ctx, &Document{ID: id, Rev: rev, Deleted: true})
}

// ResolveConflicts writes body as the child of the winning leaf winnerRev and
// tombstones every other live leaf in the same commit, leaving one revision.
// It fails with ErrConflict when the winner is no longer winnerRev.
func (s *Store) ResolveConflicts(ctx context.Context, id, winnerRev string, body map[string]interface{}) (*Document, error) {
	data, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	w := e.winner()
	if w == nil || w.Rev != winnerRev {
		return nil, fmt.Errorf("%w: winner of %s moved", ErrConflict, id)
	}

	var kept string
	for i, l := range e.Leaves {
		switch {
		case l.Rev == winnerRev:
			e.Leaves[i] = childLeaf(l, false, data)
			kept = e.Leaves[i].Rev
		case !l.Deleted:
			e.Leaves[i] = childLeaf(l, true, nil)
		}
	}

	if err := s.commit(ctx, e); err != nil {
		return nil, err
	}
	return toDocument(e, &e.Leaves[e.leafIndex(kept)])
}

// Changes lists changes after since in commit order, without bodies
func (s *Store) Changes(ctx context.Context, since uint64, limit int) ([]Change, error) {
	entries, err := s.backend.Since(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.change())
	}
	return out, nil
}

// Changed returns a channel that is closed at the next commit
func (s *Store) Changed() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notify
}

// Watch streams changes after since, with winning bodies, until ctx ends.
// Events arrive in commit order.
func (s *Store) Watch(ctx context.Context, since uint64) <-chan Change {
	out := make(chan Change)

	go func() {
		defer close(out)
		for {
			wait := s.Changed()

			entries, err := s.backend.Since(ctx, since, watchBatch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("⚠️ Store %s: change feed read failed: %v", s.name, err)
				select {
				case <-time.After(time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			for _, e := range entries {
				c := e.change()
				if w := e.winner(); w != nil && !w.Deleted {
					if doc, err := toDocument(e, w); err == nil {
						c.Doc = doc
					}
				}
				select {
				case out <- c:
					since = e.Seq
				case <-ctx.Done():
					return
				}
			}

			if len(entries) == watchBatch {
				continue
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// RevsDiff reports, per document, the revisions this store does not have
func (s *Store) RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error) {
	missing := make(map[string][]string)
	for id, list := range revs {
		e, err := s.backend.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			missing[id] = append([]string(nil), list...)
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, rev := range list {
			if !e.knows(rev) {
				missing[id] = append(missing[id], rev)
			}
		}
	}
	return missing, nil
}

// BulkGet returns the requested leaf revisions with their ancestry.
// Revisions that are no longer leaves are omitted.
func (s *Store) BulkGet(ctx context.Context, refs []RevRef) ([]Revision, error) {
	out := make([]Revision, 0, len(refs))
	for _, ref := range refs {
		e, err := s.backend.Load(ctx, ref.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		i := e.leafIndex(ref.Rev)
		if i < 0 {
			continue
		}
		l := e.Leaves[i]
		out = append(out, Revision{
			ID:      e.ID,
			Rev:     l.Rev,
			Deleted: l.Deleted,
			Body:    l.Body,
			History: append([]string(nil), l.History...),
		})
	}
	return out, nil
}

// BulkDocs stores replicated revisions as-is. A revision extending a leaf
// replaces it; one that extends no leaf becomes a conflicting branch.
// Known revisions are ignored, so applying the same batch twice is a no-op.
func (s *Store) BulkDocs(ctx context.Context, revs []Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range revs {
		if err := validateID(r.ID); err != nil {
			return err
		}
		if _, _, err := parseRev(r.Rev); err != nil {
			return err
		}

		e, err := s.loadOrNew(ctx, r.ID)
		if err != nil {
			return err
		}
		if e.knows(r.Rev) {
			continue
		}

		leaf := Leaf{
			Rev:     r.Rev,
			Deleted: r.Deleted,
			Body:    r.Body,
			History: capHistory(append([]string(nil), r.History...)),
		}
		replaced := false
		for i, l := range e.Leaves {
			if contains(r.History, l.Rev) {
				e.Leaves[i] = leaf
				replaced = true
				break
			}
		}
		if !replaced {
			e.Leaves = append(e.Leaves, leaf)
		}

		if err := s.commit(ctx, e); err != nil {
			return fmt.Errorf("store %s@%s: %w", r.ID, r.Rev, err)
		}
	}
	return nil
}

// GetLocal reads a non-replicated document
func (s *Store) GetLocal(ctx context.Context, id string) ([]byte, error) {
	return s.backend.GetLocal(ctx, id)
}

// PutLocal writes a non-replicated document; it does not enter the change feed
func (s *Store) PutLocal(ctx context.Context, id string, body []byte) error {
	return s.backend.PutLocal(ctx, id, body)
}

func (s *Store) loadOrNew(ctx context.Context, id string) (*Entry, error) {
	e, err := s.backend.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return &Entry{ID: id}, nil
	}
	return e, err
}

func (s *Store) commit(ctx context.Context, e *Entry) error {
	if _, err := s.backend.Commit(ctx, e); err != nil {
		return err
	}

	s.notifyMu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.notifyMu.Unlock()
	return nil
}

func toDocument(e *Entry, l *Leaf) (*Document, error) {
	body, err := decodeBody(l.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s@%s: %w", e.ID, l.Rev, err)
	}
	return &Document{
		ID:        e.ID,
		Rev:       l.Rev,
		Deleted:   l.Deleted,
		Conflicts: e.conflicts(),
		Body:      body,
	}, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing document id", ErrBadRequest)
	}
	if strings.HasPrefix(id, "_") {
		return fmt.Errorf("%w: reserved document id %q", ErrBadRequest, id)
	}
	return nil
}
