// Command engine runs the matching engine's HTTP/SSE server: it loads
// configuration, opens the durable store, rehydrates in-memory state from
// it, and serves §6's routes until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"secmatch/internal/compute"
	"secmatch/internal/config"
	"secmatch/internal/domain"
	"secmatch/internal/logging"
	"secmatch/internal/outbox"
	"secmatch/internal/phase"
	"secmatch/internal/recovery"
	"secmatch/internal/registry"
	"secmatch/internal/store"
	"secmatch/internal/transport"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "engine",
		Short: "Securities matching engine core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional)")

	root.AddCommand(newServeCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/SSE server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("engine: open store: %w", err)
	}
	st, err := store.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("engine: init store: %w", err)
	}

	p := phase.NewController(domain.Suspense)
	out := outbox.New(st)
	pool := compute.NewPool(cfg.ComputePoolSize)
	reg := registry.New(p, st, out, pool, log, cfg.RingSize, cfg.SettleDelay)

	if err := recovery.Load(ctx, st, reg, out, p, log); err != nil {
		return fmt.Errorf("engine: recover: %w", err)
	}

	srv := transport.New(st, p, reg, out, log)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("engine: listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("engine: serve: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("engine: shutting down")
		if err := httpServer.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("engine: shutdown: %w", err)
		}
	}
	return nil
}
