package docstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout inside one badger database (one database per collection):
//
//	d/<id>        -> msgpack(Entry)
//	s/<seq:%020d> -> <id>
//	l/<id>        -> local document body
//	m/seq, m/count
var (
	docPrefix   = []byte("d/")
	seqPrefix   = []byte("s/")
	localPrefix = []byte("l/")
	metaSeqKey  = []byte("m/seq")
	metaCntKey  = []byte("m/count")
)

const defaultBadgerValueLogFileSize = 64 * 1024 * 1024

// BadgerBackend keeps a collection in an embedded badger database.
// It is the device-local store: it needs no server and survives restarts.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database at path.
// An empty path opens an in-memory database.
func OpenBadger(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithValueLogFileSize(defaultBadgerValueLogFileSize)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerBackend{db: db}, nil
}

// Close closes the database
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// Load implements Backend
func (b *BadgerBackend) Load(ctx context.Context, id string) (*Entry, error) {
	var e *Entry
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = loadEntry(txn, id)
		return err
	})
	return e, err
}

// Commit implements Backend
func (b *BadgerBackend) Commit(ctx context.Context, e *Entry) (uint64, error) {
	err := b.db.Update(func(txn *badger.Txn) error {
		last, err := readUint(txn, metaSeqKey)
		if err != nil {
			return err
		}
		count, err := readUint(txn, metaCntKey)
		if err != nil {
			return err
		}

		prev, err := loadEntry(txn, e.ID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			if err := txn.Delete(seqKey(prev.Seq)); err != nil {
				return err
			}
			if prev.Live() && count > 0 {
				count--
			}
		}
		if e.Live() {
			count++
		}

		e.Seq = last + 1
		data, err := msgpack.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}

		if err := txn.Set(docKey(e.ID), data); err != nil {
			return err
		}
		if err := txn.Set(seqKey(e.Seq), []byte(e.ID)); err != nil {
			return err
		}
		if err := txn.Set(metaSeqKey, encodeUint(e.Seq)); err != nil {
			return err
		}
		return txn.Set(metaCntKey, encodeUint(count))
	})
	if err != nil {
		return 0, err
	}
	return e.Seq, nil
}

// Since implements Backend
func (b *BadgerBackend) Since(ctx context.Context, seq uint64, limit int) ([]*Entry, error) {
	var out []*Entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = seqPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seqKey(seq + 1)); it.ValidForPrefix(seqPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := loadEntry(txn, string(id))
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Count implements Backend
func (b *BadgerBackend) Count(ctx context.Context) (int, error) {
	var n uint64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readUint(txn, metaCntKey)
		return err
	})
	return int(n), err
}

// LastSeq implements Backend
func (b *BadgerBackend) LastSeq(ctx context.Context) (uint64, error) {
	var n uint64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readUint(txn, metaSeqKey)
		return err
	})
	return n, err
}

// GetLocal implements Backend
func (b *BadgerBackend) GetLocal(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte{}, localPrefix...), id...))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// PutLocal implements Backend
func (b *BadgerBackend) PutLocal(ctx context.Context, id string, body []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(append([]byte{}, localPrefix...), id...), body)
	})
}

func loadEntry(txn *badger.Txn, id string) (*Entry, error) {
	item, err := txn.Get(docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return &e, nil
}

func docKey(id string) []byte {
	return append(append([]byte{}, docPrefix...), id...)
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("s/%020d", seq))
}

func readUint(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func encodeUint(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}
