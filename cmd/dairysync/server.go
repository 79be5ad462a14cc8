package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/xelth-com/dairysync/internal/config"
	"github.com/xelth-com/dairysync/internal/database"
	"github.com/xelth-com/dairysync/internal/endpoint"
	"github.com/xelth-com/dairysync/internal/middleware"
	"github.com/xelth-com/dairysync/internal/registry"
)

func newServerCmd() *cobra.Command {
	var sqlitePath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the LAN replication endpoint",
		Long: `Serves the replication protocol for every collection on ENDPOINT_PORT,
backed by PostgreSQL (embedded unless PG_EMBEDDED=false) or, with --sqlite,
by a single SQLite file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServer(ctx, sqlitePath)
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "store collections in this SQLite file instead of PostgreSQL")
	return cmd
}

func runServer(ctx context.Context, sqlitePath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	syncCfg := config.LoadSyncConfig()

	var db *database.DB
	if sqlitePath != "" {
		db, err = database.OpenSQLite(sqlitePath)
	} else {
		db, err = database.Connect(cfg.Database)
	}
	if err != nil {
		return err
	}
	defer func() {
		// also stops embedded PostgreSQL
		log.Println("🛑 Closing database connection...")
		if err := db.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}()

	log.Println("🚀 Synchronizing database schema...")
	if err := db.Migrate(); err != nil {
		return err
	}

	var checker middleware.CredentialChecker
	if cfg.Endpoint.Username != "" {
		users := endpoint.NewUserStore(db.DB)
		if err := users.EnsureUser(cfg.Endpoint.Username, cfg.Endpoint.Password); err != nil {
			return fmt.Errorf("endpoint account: %w", err)
		}
		checker = users
	} else {
		log.Println("⚠️ ENDPOINT_USERNAME not set, endpoint accepts anonymous replication")
	}

	names := syncCfg.Collections
	if len(names) == 0 {
		names = registry.DefaultCollections
	}

	server := &http.Server{
		Addr:    ":" + cfg.Endpoint.Port,
		Handler: endpoint.NewRouter(endpoint.NewGormDatabases(db.DB, names), checker),
	}
	return serve(ctx, server, "Replication endpoint")
}
