package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hookrelay/internal/client"
	"hookrelay/internal/logging"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		opts  client.Options
		debug bool
	)

	cmd := &cobra.Command{
		Use:     "hookrelay",
		Short:   "Expose a local webhook receiver through a public tunnel URL",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(true, debug)
			return client.New(opts).Run(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ServerURL, "server", "http://localhost:8080", "Tunnel server URL")
	flags.StringVar(&opts.Token, "auth-token", "", "Auth token for the server")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.Flags().StringVar(&opts.Subdomain, "subdomain", "", "Requested subdomain (empty gets a random one)")
	cmd.Flags().StringVar(&opts.LocalHost, "host", "localhost", "Local host running the receiver")
	cmd.Flags().IntVar(&opts.LocalPort, "port", 10000, "Local port to expose")
	cmd.Flags().StringVar(&opts.WebhookPath, "webhook-path", "/save-persona-section1", "Path appended to the public URL in the startup banner")
	cmd.Flags().BoolVar(&opts.Reconnect, "reconnect", false, "Reconnect with a fresh URL when the session expires")

	cmd.AddCommand(newTailCommand(&opts, &debug))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cobra.OnFinalize(stop)

	return cmd
}

func newTailCommand(opts *client.Options, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Stream captured requests from the server live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(true, *debug)
			return client.New(*opts).Tail(cmd.Context())
		},
	}
}
