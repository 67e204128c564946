package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hookrelay/internal/auth"
	"hookrelay/internal/caddysetup"
	"hookrelay/internal/config"
	"hookrelay/internal/logging"
	"hookrelay/internal/server"
)

const version = "0.1.0"

// caddyUpstream is where the internal listener moves when the embedded
// TLS frontend takes over the public address.
const caddyUpstream = "127.0.0.1:8081"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		listen     string
		domain     string
		authFile   string
		captureDB  string
		useCaddy   bool
		caddyEmail string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "hookrelay-server",
		Short:   "Tunnel server exposing local webhook receivers on public URLs",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(false, debug)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("domain") {
				cfg.Domain = domain
			}
			if cmd.Flags().Changed("auth-file") {
				cfg.AuthFile = authFile
			}
			if cmd.Flags().Changed("capture-db") {
				cfg.CaptureDB = captureDB
			}
			if cmd.Flags().Changed("use-caddy") {
				cfg.Caddy.Enabled = useCaddy
			}
			if cmd.Flags().Changed("caddy-email") {
				cfg.Caddy.Email = caddyEmail
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to TOML config file")
	cmd.Flags().StringVar(&listen, "listen", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&domain, "domain", "localhost", "Public base domain for tunnel URLs")
	cmd.Flags().StringVar(&authFile, "auth-file", "", "Path to auth token YAML file (empty disables auth)")
	cmd.Flags().StringVar(&captureDB, "capture-db", "", "Path to SQLite capture history (empty keeps captures in memory only)")
	cmd.Flags().BoolVar(&useCaddy, "use-caddy", false, "Enable embedded Caddy for TLS")
	cmd.Flags().StringVar(&caddyEmail, "caddy-email", "", "Email for Let's Encrypt account")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cobra.OnFinalize(stop)

	return cmd
}

func run(ctx context.Context, cfg config.Server) error {
	var mgr *auth.Manager
	if cfg.AuthFile != "" {
		var err error
		mgr, err = auth.NewManagerFromFile(cfg.AuthFile)
		if err != nil {
			return err
		}
		log.Info().Str("auth_file", cfg.AuthFile).Msg("auth enabled")
	} else {
		log.Warn().Msg("auth disabled (no auth file provided)")
	}

	srv, err := server.New(cfg, mgr)
	if err != nil {
		return err
	}
	defer srv.Close()

	listenAddr := cfg.Listen
	if cfg.Caddy.Enabled {
		listenAddr = caddyUpstream
		askURL := "http://" + caddyUpstream + "/caddy/ask"
		if err := caddysetup.Start(ctx, cfg.Listen, caddyUpstream, cfg.Domain, cfg.Caddy.Email, askURL); err != nil {
			return fmt.Errorf("caddy start: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("listen", listenAddr).
		Str("domain", cfg.Domain).
		Dur("session_ttl", cfg.SessionTTLDuration()).
		Msg("hookrelay server listening")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
