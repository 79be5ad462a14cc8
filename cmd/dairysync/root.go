package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xelth-com/dairysync/internal/buildinfo"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dairysync",
		Short: "Offline-first data layer for dairy collection centres",
		Long: `dairysync keeps the collections of a dairy back-office (milk records,
farmers, centres, payments, fodder, settings, users) in local databases that
replicate with a LAN endpoint whenever it is reachable.

Run "dairysync node" on every back-office machine and "dairysync server" on
the machine hosting the shared endpoint.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newNodeCmd(),
		newServerCmd(),
		newIngestCmd(),
		newDecodeCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Get())
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serve runs server until ctx ends, then shuts it down gracefully
func serve(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 %s starting on %s", name, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("⚠️  Shutting down %s gracefully...", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	return nil
}
