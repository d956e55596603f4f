/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blacktop/xrelay/internal/config"
	"github.com/blacktop/xrelay/internal/fanout"
	"github.com/blacktop/xrelay/internal/idmap"
	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/media"
	"github.com/blacktop/xrelay/internal/xpost"
	"github.com/blacktop/xrelay/internal/xpost/bluesky"
	"github.com/blacktop/xrelay/internal/xpost/cohost"
	"github.com/blacktop/xrelay/internal/xpost/mastodon"
	"github.com/blacktop/xrelay/internal/xpost/twitter"
)

var (
	verbose    bool
	logJSON    bool
	configPath string
	storeFlag  string
)

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xrelay",
		Short: "Relay posts between Twitter/X, Mastodon, Bluesky and Cohost",
		Long: "xrelay copies a post from the network it was written on to the operator's " +
			"other accounts, keeping reply threads intact across networks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.SetVerbose(verbose)
			logutil.SetJSON(logJSON)
		},
		Example: `  xrelay serve
  xrelay crosspost https://twitter.com/me/status/123 --target mastodon --target bsky
  xrelay watch --target bsky,cohost
  xrelay mappings get twitter 123`,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Identifier map store DSN (overrides config)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newCrossPostCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newMappingsCommand())
	cmd.AddCommand(newCompletionCommand())

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storeFlag != "" {
		cfg.Store = storeFlag
	}
	return cfg, nil
}

// openMap opens the configured store and loads its snapshot.
func openMap(ctx context.Context, cfg *config.Config) (*idmap.Map, error) {
	store, err := idmap.OpenStorage(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ids := idmap.New(store)
	ids.Load(ctx)
	return ids, nil
}

var posterConstructors = map[xpost.Network]func(context.Context) (xpost.Poster, error){
	xpost.Bluesky: func(ctx context.Context) (xpost.Poster, error) {
		return bluesky.New(ctx, bluesky.Config{PDSURL: bluesky.DefaultPDSURL})
	},
	xpost.Cohost: func(ctx context.Context) (xpost.Poster, error) {
		return cohost.New(ctx)
	},
	xpost.Mastodon: func(ctx context.Context) (xpost.Poster, error) {
		return mastodon.New(ctx)
	},
	xpost.Twitter: func(ctx context.Context) (xpost.Poster, error) {
		return twitter.New(ctx)
	},
}

// buildPosters constructs a poster per target. With strict unset, targets
// whose credentials are missing are skipped with a warning.
func buildPosters(ctx context.Context, targets []xpost.Network, strict bool) ([]xpost.Poster, error) {
	posters := make([]xpost.Poster, 0, len(targets))
	var errs []error
	for _, target := range targets {
		constructor, ok := posterConstructors[target]
		if !ok {
			errs = append(errs, fmt.Errorf("target %q is not implemented", target))
			continue
		}
		poster, err := constructor(ctx)
		if err != nil {
			var missing xpost.MissingEnvError
			if !strict && errors.As(err, &missing) {
				logutil.Warnf("%s disabled: %v", target, err)
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		posters = append(posters, poster)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(posters) == 0 {
		return nil, errors.New("no targets available")
	}
	return posters, nil
}

// buildFetchers returns the source readers. Twitter needs no credentials;
// Mastodon reads through the operator's own server.
func buildFetchers() []xpost.Fetcher {
	fetchers := []xpost.Fetcher{twitter.NewFetcher()}
	cfg, err := mastodon.LoadConfig()
	if err != nil {
		logutil.Warnf("mastodon source disabled: %v", err)
		return fetchers
	}
	return append(fetchers, mastodon.NewWithConfig(cfg))
}

func newOrchestrator(ctx context.Context, cfg *config.Config, ids *idmap.Map, targets []xpost.Network, strict bool) (*fanout.Orchestrator, error) {
	posters, err := buildPosters(ctx, targets, strict)
	if err != nil {
		return nil, err
	}
	return fanout.New(fanout.Options{
		Posters:        posters,
		Fetchers:       buildFetchers(),
		Store:          ids,
		Stager:         media.NewStager(cfg.MediaDir, nil),
		Operator:       cfg.Operator,
		PublishTimeout: cfg.Timeout(),
	}), nil
}

func parseTargets(values []string, source xpost.Network) ([]xpost.Network, error) {
	targets, err := xpost.ParseDestinations(values, source)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("no targets selected")
	}
	return targets, nil
}
