package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blacktop/xrelay/internal/watch"
	"github.com/blacktop/xrelay/internal/xpost"
	"github.com/blacktop/xrelay/internal/xpost/mastodon"
)

func newWatchCommand() *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Relay new Mastodon statuses as they are posted",
		Long: "watch follows the operator's Mastodon user stream and relays every original " +
			"status to the targets. Reblogs and statuses the relay created itself are ignored.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var dsts []xpost.Network
			if len(targets) > 0 {
				dsts, err = parseTargets(targets, xpost.Mastodon)
			} else {
				dsts, err = cfg.Watch()
			}
			if err != nil {
				return err
			}
			if len(dsts) == 0 {
				return errors.New("no targets selected, pass --target or set watch_destinations")
			}

			mcfg, err := mastodon.LoadConfig()
			if err != nil {
				return err
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

			relay, err := newOrchestrator(ctx, cfg, ids, dsts, true)
			if err != nil {
				return err
			}

			w := watch.New(watch.Config{
				Server:       mcfg.Server,
				AccessToken:  mcfg.AccessToken,
				Operator:     cfg.Operator,
				Destinations: dsts,
			}, relay, ids)
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "Targets to post to (overrides watch_destinations)")
	return cmd
}
