package sync

import (
	"context"
	"time"

	"github.com/xelth-com/dairysync/internal/config"
	"github.com/xelth-com/dairysync/internal/docstore"
)

// Database is one side of a replication. Both *docstore.Store and
// *remote.Client implement it.
type Database interface {
	Info(ctx context.Context) (docstore.Info, error)
	Changes(ctx context.Context, since uint64, limit int) ([]docstore.Change, error)
	RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error)
	BulkGet(ctx context.Context, refs []docstore.RevRef) ([]docstore.Revision, error)
	BulkDocs(ctx context.Context, revs []docstore.Revision) error
}

// CheckpointStore keeps replication checkpoints out of the change feed
type CheckpointStore interface {
	GetLocal(ctx context.Context, id string) ([]byte, error)
	PutLocal(ctx context.Context, id string, body []byte) error
}

// Options tunes the replication manager
type Options struct {
	ProbeTimeout      time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	ReconnectDelay    time.Duration
	RetryBaseDelay    time.Duration
	MaxRetries        int
	BatchSize         int
}

// DefaultOptions returns the production timings
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:      5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		SweepInterval:     30 * time.Second,
		ReconnectDelay:    5 * time.Second,
		RetryBaseDelay:    2 * time.Second,
		MaxRetries:        3,
		BatchSize:         100,
	}
}

// OptionsFromConfig converts the loaded sync configuration
func OptionsFromConfig(cfg *config.SyncConfig) Options {
	return Options{
		ProbeTimeout:      cfg.ProbeTimeout.Std(),
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		SweepInterval:     cfg.SweepInterval.Std(),
		ReconnectDelay:    cfg.ReconnectDelay.Std(),
		RetryBaseDelay:    cfg.RetryBaseDelay.Std(),
		MaxRetries:        cfg.MaxRetries,
		BatchSize:         cfg.BatchSize,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = def.ProbeTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = def.SweepInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = def.ReconnectDelay
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = def.RetryBaseDelay
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	return o
}
