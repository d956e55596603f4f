package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blacktop/xrelay/internal/idmap"
	"github.com/blacktop/xrelay/internal/xpost"
)

func newMappingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect and import identifier mappings",
	}
	cmd.AddCommand(newMappingsGetCommand())
	cmd.AddCommand(newMappingsListCommand())
	cmd.AddCommand(newMappingsImportCommand())
	return cmd
}

func newMappingsGetCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <network> <id>",
		Short: "Show the cross-posts recorded for a source post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := xpost.ParseNetwork(args[0])
			if err != nil {
				return err
			}
			src := xpost.PostRef{Network: network, ID: args[1]}

			ids, err := openMapFromConfig(cmd)
			if err != nil {
				return err
			}
			defer ids.Close()

			found := ids.Destinations(src)
			if len(found) == 0 {
				return fmt.Errorf("no cross-posts recorded for %s", src)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, found)
			}
			for _, n := range xpost.Networks {
				if id, ok := found[n]; ok {
					fmt.Fprintf(out, "%s\t%s\n", n, id)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newMappingsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every mapping in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := openMapFromConfig(cmd)
			if err != nil {
				return err
			}
			defer ids.Close()

			out := cmd.OutOrStdout()
			for _, e := range ids.Entries() {
				fmt.Fprintf(out, "%s\t%s\t%s\n", e.Key.Source, e.Key.Destination, e.DestinationID)
			}
			return nil
		},
	}
}

func newMappingsImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy <cache.json>",
		Short: "Merge a legacy tweet cache into the store",
		Long: "import-legacy reads the older cache format, a JSON array of " +
			`["<tweetId>-<service>", "<id>"] pairs, and merges it into the configured store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			entries, err := idmap.ImportLegacy(f)
			if err != nil {
				return err
			}

			ids, err := openMapFromConfig(cmd)
			if err != nil {
				return err
			}
			defer ids.Close()

			ids.Merge(entries)
			if err := ids.Persist(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d mapping(s), store now holds %d\n", len(entries), ids.Len())
			return nil
		},
	}
}

func openMapFromConfig(cmd *cobra.Command) (*idmap.Map, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openMap(cmd.Context(), cfg)
}
