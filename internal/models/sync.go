package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncDocument stores one replicated document on the sync endpoint.
// Entry holds the encoded revision leaves; the columns beside it are for lookup.
type SyncDocument struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Collection string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_collection_doc;index:idx_collection_seq" json:"collection"`
	DocID      string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_collection_doc" json:"docId"`
	Seq        uint64         `gorm:"not null;index:idx_collection_seq" json:"seq"`
	Deleted    bool           `gorm:"default:false" json:"deleted"`
	Entry      datatypes.JSON `json:"entry"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncDocument) TableName() string {
	return "sync_documents"
}

// SyncSequence is the per-collection update sequence counter
type SyncSequence struct {
	Collection string    `gorm:"primaryKey;type:varchar(100)" json:"collection"`
	LastSeq    uint64    `gorm:"not null;default:0" json:"lastSeq"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncSequence) TableName() string {
	return "sync_sequences"
}

// SyncLocalDoc holds non-replicated documents such as checkpoints
type SyncLocalDoc struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Collection string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_collection_local" json:"collection"`
	DocID      string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_collection_local" json:"docId"`
	Body       datatypes.JSON `json:"body"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (SyncLocalDoc) TableName() string {
	return "sync_local_docs"
}

// SyncUser is a basic-auth account allowed to replicate with the endpoint
type SyncUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsActive     bool      `gorm:"default:true" json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (SyncUser) TableName() string {
	return "sync_users"
}
