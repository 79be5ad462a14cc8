package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/dairysync/internal/docstore"
)

// Direction of a replication relative to the local store
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// ReplicationResult summarises one Replicate call
type ReplicationResult struct {
	ChangesRead int
	DocsWritten int
	LastSeq     uint64
}

type checkpoint struct {
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckpointID names the checkpoint of one direction against one remote
func CheckpointID(dir Direction, remoteURL string) string {
	return "replication/" + string(dir) + "/" + remoteURL
}

// Replicate copies every revision source has and target lacks, in batches of
// batchSize changes, saving a checkpoint after each batch. Running it twice
// in a row writes nothing the second time.
func Replicate(ctx context.Context, source, target Database, cps CheckpointStore, checkpointID string, batchSize int) (ReplicationResult, error) {
	var res ReplicationResult
	if batchSize <= 0 {
		batchSize = DefaultOptions().BatchSize
	}

	since, err := loadCheckpoint(ctx, cps, checkpointID)
	if err != nil {
		return res, err
	}
	res.LastSeq = since

	for {
		changes, err := source.Changes(ctx, since, batchSize)
		if err != nil {
			return res, fmt.Errorf("read changes: %w", err)
		}
		if len(changes) == 0 {
			return res, nil
		}
		res.ChangesRead += len(changes)

		revs := make(map[string][]string, len(changes))
		for _, c := range changes {
			revs[c.ID] = c.Leaves
		}
		missing, err := target.RevsDiff(ctx, revs)
		if err != nil {
			return res, fmt.Errorf("revs diff: %w", err)
		}

		var refs []docstore.RevRef
		for id, list := range missing {
			for _, rev := range list {
				refs = append(refs, docstore.RevRef{ID: id, Rev: rev})
			}
		}
		if len(refs) > 0 {
			docs, err := source.BulkGet(ctx, refs)
			if err != nil {
				return res, fmt.Errorf("bulk get: %w", err)
			}
			if len(docs) > 0 {
				if err := target.BulkDocs(ctx, docs); err != nil {
					return res, fmt.Errorf("bulk docs: %w", err)
				}
				res.DocsWritten += len(docs)
			}
		}

		since = changes[len(changes)-1].Seq
		if err := saveCheckpoint(ctx, cps, checkpointID, since); err != nil {
			return res, err
		}
		res.LastSeq = since

		if len(changes) < batchSize {
			return res, nil
		}
	}
}

func loadCheckpoint(ctx context.Context, cps CheckpointStore, id string) (uint64, error) {
	data, err := cps.GetLocal(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// a corrupt checkpoint only costs a full re-scan
		return 0, nil
	}
	return cp.Seq, nil
}

func saveCheckpoint(ctx context.Context, cps CheckpointStore, id string, seq uint64) error {
	data, err := json.Marshal(checkpoint{Seq: seq, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := cps.PutLocal(ctx, id, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
