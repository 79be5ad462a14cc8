package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xelth-com/dairysync/internal/models"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Inbox polls a drop directory for EIP exports. Each file is ingested and
// then moved to processed/, or to failed/ when it cannot be read.
type Inbox struct {
	dir       string
	interval  time.Duration
	pipeline  *Pipeline
	principal models.Principal
}

// NewInbox creates an inbox poller; files are ingested as principal
func NewInbox(dir string, interval time.Duration, pipeline *Pipeline, principal models.Principal) *Inbox {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Inbox{dir: dir, interval: interval, pipeline: pipeline, principal: principal}
}

// Run scans immediately and then on every tick until ctx ends
func (in *Inbox) Run(ctx context.Context) error {
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
	}
	log.Printf("📂 Watching %s for EIP exports every %v", in.dir, in.interval)

	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	for {
		in.Scan(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Scan ingests every pending file once and returns how many it handled
func (in *Inbox) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		log.Printf("⚠️ Inbox: %v", err)
		return 0
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isExport(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(in.dir, name)
		res, err := in.pipeline.IngestFile(ctx, in.principal, path)
		target := processedDir
		if err != nil {
			log.Printf("❌ Inbox: %s: %v", name, err)
			target = failedDir
		} else {
			log.Printf("✅ Inbox: %s: %d records", name, res.Persisted)
		}
		if err := moveFile(path, filepath.Join(in.dir, target)); err != nil {
			log.Printf("⚠️ Inbox: move %s: %v", name, err)
		}
	}
	return len(names)
}

func isExport(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".eip", ".txt":
		return true
	}
	return false
}

// moveFile moves path into dir, adding a timestamp when the name is taken
func moveFile(path, dir string) error {
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(filepath.Base(path), ext)
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext))
	}
	return os.Rename(path, target)
}
