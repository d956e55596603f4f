package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blacktop/xrelay/internal/xpost"
)

func newCrossPostCommand() *cobra.Command {
	var (
		from    string
		targets []string
		dryRun  bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "crosspost <url|id>",
		Short: "Relay a single post",
		Long: "crosspost fetches one post from the network it was written on and publishes " +
			"it to the selected targets. The source network is inferred from the URL " +
			"unless --from is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			src, err := sourceRef(args[0], from)
			if err != nil {
				return err
			}
			dsts, err := parseTargets(targets, src.Network)
			if err != nil {
				return err
			}

			if dryRun {
				return preview(cmd, src, dsts)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ids, err := openMap(ctx, cfg)
			if err != nil {
				return err
			}
			defer ids.Close()

			relay, err := newOrchestrator(ctx, cfg, ids, dsts, true)
			if err != nil {
				return err
			}

			result := relay.CrossPost(ctx, src, dsts)
			if err := printResult(out, result, asJSON); err != nil {
				return err
			}
			return result.Combined()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Source network (twitter or mastodon)")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "Targets to post to (twitter, mastodon, bluesky, cohost, or all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and print the post without publishing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().SortFlags = false
	cmd.MarkFlagRequired("target")

	return cmd
}

// sourceRef works out which post arg names. Twitter ids are the last path
// segment of the status URL; Mastodon keeps the full URL so the fetcher can
// resolve remote statuses through the operator's server.
func sourceRef(arg, from string) (xpost.PostRef, error) {
	arg = strings.Trim(strings.TrimSpace(arg), `"`)
	if arg == "" {
		return xpost.PostRef{}, errors.New("post url or id is required")
	}

	var network xpost.Network
	if from != "" {
		n, err := xpost.ParseNetwork(from)
		if err != nil {
			return xpost.PostRef{}, err
		}
		network = n
	}

	u, err := url.Parse(arg)
	isURL := err == nil && u.Scheme != "" && u.Host != ""
	if network == "" {
		if !isURL {
			return xpost.PostRef{}, errors.New("--from is required when passing a bare id")
		}
		network = xpost.Mastodon
		switch strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") {
		case "twitter.com", "x.com", "mobile.twitter.com", "fxtwitter.com", "vxtwitter.com":
			network = xpost.Twitter
		}
	}

	switch network {
	case xpost.Twitter:
		if isURL {
			arg = path.Base(strings.TrimRight(u.Path, "/"))
		}
	case xpost.Mastodon:
	default:
		return xpost.PostRef{}, fmt.Errorf("%s is not a supported source", network)
	}
	return xpost.PostRef{Network: network, ID: arg}, nil
}

func preview(cmd *cobra.Command, src xpost.PostRef, dsts []xpost.Network) error {
	var fetcher xpost.Fetcher
	for _, f := range buildFetchers() {
		if f.Network() == src.Network {
			fetcher = f
		}
	}
	if fetcher == nil {
		return fmt.Errorf("%w for %s", errNoFetcher, src.Network)
	}

	post, err := fetcher.Fetch(cmd.Context(), src.ID)
	if err != nil {
		return err
	}
	printPreview(cmd.OutOrStdout(), post, dsts)
	return nil
}

var errNoFetcher = errors.New("no fetcher configured")

func printPreview(out io.Writer, post *xpost.SourcePost, dsts []xpost.Network) {
	fmt.Fprintf(out, "[dry-run] %s by %s -> %v\n", post.Ref, post.Author, dsts)
	if post.SpoilerText != "" {
		fmt.Fprintf(out, "[dry-run] cw: %s\n", post.SpoilerText)
	}
	fmt.Fprintf(out, "[dry-run] text: %q\n", post.Text)
	if post.QuoteURL != "" {
		fmt.Fprintf(out, "[dry-run] quote: %s\n", post.QuoteURL)
	}
	if parent := post.ReplyTo; parent != "" {
		fmt.Fprintf(out, "[dry-run] reply to: %s\n", parent)
	} else if post.ReplyToFallback != "" {
		fmt.Fprintf(out, "[dry-run] reply to: %s\n", post.ReplyToFallback)
	}
	for i, a := range post.Attachments {
		if i == xpost.MaxAttachments {
			fmt.Fprintf(out, "[dry-run] %d more attachment(s) dropped\n", len(post.Attachments)-i)
			break
		}
		fmt.Fprintf(out, "[dry-run] %s: %s (alt: %q)\n", a.Kind, a.URL, a.AltText)
	}
}
