package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xelth-com/dairysync/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormBackend keeps a collection in SQL tables shared by all collections.
// The sync endpoint uses it on top of PostgreSQL.
type GormBackend struct {
	db         *gorm.DB
	collection string
}

// NewGormBackend binds a backend to one collection; the tables must exist
// (see database.Migrate).
func NewGormBackend(db *gorm.DB, collection string) *GormBackend {
	return &GormBackend{db: db, collection: collection}
}

// Close is a no-op; the connection is owned by the caller
func (g *GormBackend) Close() error {
	return nil
}

// Load implements Backend
func (g *GormBackend) Load(ctx context.Context, id string) (*Entry, error) {
	var row models.SyncDocument
	err := g.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", g.collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRow(&row)
}

// Commit implements Backend
func (g *GormBackend) Commit(ctx context.Context, e *Entry) (uint64, error) {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq := models.SyncSequence{Collection: g.collection}
		if err := tx.Where("collection = ?", g.collection).FirstOrCreate(&seq).Error; err != nil {
			return fmt.Errorf("read sequence: %w", err)
		}
		next := seq.LastSeq + 1
		if err := tx.Model(&models.SyncSequence{}).
			Where("collection = ?", g.collection).
			Update("last_seq", next).Error; err != nil {
			return fmt.Errorf("advance sequence: %w", err)
		}

		e.Seq = next
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}

		row := models.SyncDocument{Collection: g.collection, DocID: e.ID}
		return tx.Where("collection = ? AND doc_id = ?", g.collection, e.ID).
			Assign(map[string]interface{}{
				"seq":     next,
				"deleted": !e.Live(),
				"entry":   datatypes.JSON(data),
			}).
			FirstOrCreate(&row).Error
	})
	if err != nil {
		return 0, err
	}
	return e.Seq, nil
}

// Since implements Backend
func (g *GormBackend) Since(ctx context.Context, seq uint64, limit int) ([]*Entry, error) {
	var rows []models.SyncDocument
	q := g.db.WithContext(ctx).
		Where("collection = ? AND seq > ?", g.collection, seq).
		Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, len(rows))
	for i := range rows {
		e, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Count implements Backend
func (g *GormBackend) Count(ctx context.Context) (int, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&models.SyncDocument{}).
		Where("collection = ? AND deleted = ?", g.collection, false).
		Count(&n).Error
	return int(n), err
}

// LastSeq implements Backend
func (g *GormBackend) LastSeq(ctx context.Context) (uint64, error) {
	var seq models.SyncSequence
	err := g.db.WithContext(ctx).Where("collection = ?", g.collection).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return seq.LastSeq, err
}

// GetLocal implements Backend
func (g *GormBackend) GetLocal(ctx context.Context, id string) ([]byte, error) {
	var row models.SyncLocalDoc
	err := g.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", g.collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Body), nil
}

// PutLocal implements Backend
func (g *GormBackend) PutLocal(ctx context.Context, id string, body []byte) error {
	row := models.SyncLocalDoc{Collection: g.collection, DocID: id}
	return g.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", g.collection, id).
		Assign(map[string]interface{}{"body": datatypes.JSON(body)}).
		FirstOrCreate(&row).Error
}

func decodeRow(row *models.SyncDocument) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(row.Entry, &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", row.DocID, err)
	}
	e.Seq = row.Seq
	return &e, nil
}
