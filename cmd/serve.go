package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/server"
	"github.com/blacktop/xrelay/internal/xpost"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept relay requests over HTTP",
		Long: "serve listens for /fromTwitter and /fromMastodon requests. Every network " +
			"with credentials in the environment is available as a destination.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.Secret == "" {
				logutil.Warnf("no secret configured, every request will be rejected")
			}

			shutdown, err := setupTracing(ctx, cfg.TraceEndpoint)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			ids, err := openMap(ctx, cfg)
			if err != nil {
				return err
			}
			defer ids.Close()

			relay, err := newOrchestrator(ctx, cfg, ids, xpost.Networks, false)
			if err != nil {
				return err
			}
			logutil.Infof("destinations: %v", relay.Destinations())

			e := server.New(server.NewHandler(relay, ids, cfg.Secret))
			runErr := server.Run(ctx, e, cfg.Listen)
			if err := ids.Persist(context.Background()); err != nil {
				logutil.Warnf("%v", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides config)")
	return cmd
}
