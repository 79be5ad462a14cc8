package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/xelth-com/dairysync/internal/config"
	"github.com/xelth-com/dairysync/internal/events"
	"github.com/xelth-com/dairysync/internal/handlers"
	"github.com/xelth-com/dairysync/internal/ingest"
	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/registry"
	replication "github.com/xelth-com/dairysync/internal/sync"
	"github.com/xelth-com/dairysync/internal/utils"
	"github.com/xelth-com/dairysync/internal/websocket"
)

const eventBuffer = 256

func newNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "node",
		Short: "Run a back-office node",
		Long: `Opens the local collections, replicates them with REMOTE_URL when it is
reachable, resolves conflicts, watches INBOX_DIR for EIP exports and serves
the node API on PORT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runNode(ctx)
		},
	}
}

func runNode(ctx context.Context) error {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to run a node")
	}
	syncCfg := config.LoadSyncConfig()

	// 2. Collections
	bus := events.NewBus()
	defer bus.Close()

	reg, err := registry.Open(cfg, syncCfg.Collections, utils.NewRolePolicy(), bus)
	if err != nil {
		return fmt.Errorf("open collections: %w", err)
	}
	defer func() {
		log.Println("🛑 Closing collections...")
		if err := reg.Close(); err != nil {
			log.Printf("Close error: %v", err)
		}
	}()

	// 3. Live updates for the UI
	hub := websocket.NewHub()
	go hub.Run(ctx, bus.Subscribe(eventBuffer))

	deps := handlers.Deps{
		Registry:  reg,
		Hub:       hub,
		JWTSecret: cfg.JWTSecret,
	}

	// 4. Conflict resolution, positioned before replication can pull anything
	if syncCfg.ResolveConflicts {
		for _, name := range reg.Names() {
			c, _ := reg.Get(name)
			since, err := c.Local.UpdateSeq(ctx)
			if err != nil {
				return fmt.Errorf("%s: read update seq: %w", name, err)
			}
			resolver := replication.NewConflictResolver(name, c.Local, bus)
			go func(name string) {
				if err := resolver.RunSince(ctx, since); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("⚠️ %s: conflict resolver stopped: %v", name, err)
				}
			}(name)
		}
	}

	// 5. Replication
	if syncCfg.Enabled {
		manager := replication.NewManager(reg, bus, replication.OptionsFromConfig(syncCfg))
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("start replication: %w", err)
		}
		defer manager.Stop()
		deps.Sync = manager
	} else {
		log.Println("⚠️ Replication disabled, node runs offline")
	}

	// 6. Ingest
	deps.Pipeline = ingest.NewPipeline(reg)
	if cfg.Inbox.Dir != "" {
		inbox := ingest.NewInbox(cfg.Inbox.Dir, cfg.Inbox.Interval, deps.Pipeline, models.SystemPrincipal)
		go func() {
			if err := inbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️ Inbox stopped: %v", err)
			}
		}()
	}

	// 7. Node API
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(deps),
	}
	return serve(ctx, server, "Node API")
}
