package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hookrelay/internal/logging"
	"hookrelay/internal/receiver"
	"hookrelay/internal/receiver/storage"
	"hookrelay/internal/receiver/storage/memory"
	"hookrelay/internal/receiver/storage/postgres"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		host  string
		port  int
		dsn   string
		debug bool
	)

	cmd := &cobra.Command{
		Use:     "hookrelay-receiver",
		Short:   "Local webhook receiver persisting persona sections",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(false, debug)

			// env mirrors the flags for container deployments
			if !cmd.Flags().Changed("port") {
				if env := os.Getenv("PORT"); env != "" {
					p, err := strconv.Atoi(env)
					if err != nil {
						return fmt.Errorf("invalid PORT %q: %w", env, err)
					}
					port = p
				}
			}
			if !cmd.Flags().Changed("database-dsn") {
				if env := os.Getenv("DATABASE_DSN"); env != "" {
					dsn = env
				}
			}

			return run(cmd.Context(), host, port, dsn)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Listen host")
	cmd.Flags().IntVar(&port, "port", 10000, "Listen port")
	cmd.Flags().StringVar(&dsn, "database-dsn", "", "Postgres connection string (empty keeps records in memory)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cobra.OnFinalize(stop)

	return cmd
}

func run(ctx context.Context, host string, port int, dsn string) error {
	var (
		store  storage.PersonaStore
		pinger receiver.DBPinger
	)
	if dsn != "" {
		pg, err := postgres.NewStorage(ctx, dsn)
		if err != nil {
			return err
		}
		defer pg.Close()
		store, pinger = pg, pg
		log.Info().Msg("using postgres persona store")
	} else {
		store = memory.NewStorage()
		log.Warn().Msg("no database configured, persona records are in-memory only")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: receiver.NewHandler(store, pinger).RegisterRoutes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("webhook receiver listening")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
