// Package ingest turns EIP exports into milk records in the milkData
// collection. Re-ingesting the same export overwrites instead of duplicating.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xelth-com/dairysync/internal/eip"
	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/registry"
)

// Result summarises one ingest
type Result struct {
	Persisted int           `json:"persisted"`
	Failed    int           `json:"failed"`
	Warnings  []eip.Warning `json:"warnings"`
}

// Pipeline decodes exports and upserts the records
type Pipeline struct {
	reg        *registry.Registry
	collection string
	options    eip.Options
	now        func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDecodeOptions overrides the EIP format constants
func WithDecodeOptions(opts eip.Options) Option {
	return func(p *Pipeline) { p.options = opts }
}

// WithClock replaces time.Now for stamping records
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline writing to the milkData collection
func NewPipeline(reg *registry.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		reg:        reg,
		collection: registry.MilkData,
		options:    eip.DefaultOptions(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest decodes text and upserts every record on behalf of principal.
// A record that cannot be written is logged and counted; the rest of the
// batch still goes through. The error is reserved for a missing collection.
func (p *Pipeline) Ingest(ctx context.Context, principal models.Principal, text string) (Result, error) {
	if _, err := p.reg.Get(p.collection); err != nil {
		return Result{}, err
	}

	decoded := eip.DecodeWithOptions(text, p.options)
	res := Result{Warnings: decoded.Warnings}
	stamp := p.now().UTC()

	for _, rec := range decoded.Records {
		rec.Timestamp = stamp
		if principal.EmployeeID != "" {
			rec.EmployeeID = principal.EmployeeID
		}

		body, err := recordBody(rec)
		if err != nil {
			log.Printf("❌ Ingest: encode %s: %v", rec.ID, err)
			res.Failed++
			continue
		}
		if _, _, err := p.reg.Upsert(ctx, principal, p.collection, rec.ID, body); err != nil {
			log.Printf("❌ Ingest: save %s: %v", rec.ID, err)
			res.Failed++
			continue
		}
		res.Persisted++
	}

	log.Printf("📥 Ingest: %d persisted, %d failed, %d warnings", res.Persisted, res.Failed, len(res.Warnings))
	return res, nil
}

// IngestFile reads and ingests one export file
func (p *Pipeline) IngestFile(ctx context.Context, principal models.Principal, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return p.Ingest(ctx, principal, string(data))
}

func recordBody(rec models.MilkRecord) (map[string]interface{}, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}
