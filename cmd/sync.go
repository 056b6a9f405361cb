package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/client"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Discover, register, and download new products",
	Long: `Syncs one product: searches the catalog, files new URLs into the
registry, and downloads whatever download tracking has not seen yet.
Without --baseline every known baseline is synced; without a time range
the last three days are covered, which suits a periodic cron job.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("collection", "", "collection name (required)")
	syncCmd.Flags().String("product", "", "product type (required)")
	syncCmd.Flags().String("baseline", "", "baseline version (all known baselines when omitted)")
	syncCmd.Flags().String("start", "", "range start (default three days ago)")
	syncCmd.Flags().String("end", "", "range end (default now)")
	syncCmd.Flags().Int("max-items", 0, "cap on downloads per baseline (0 for the default)")
	_ = syncCmd.MarkFlagRequired("collection")
	_ = syncCmd.MarkFlagRequired("product")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	opts := client.SyncOptions{}
	opts.Collection, _ = cmd.Flags().GetString("collection")
	opts.ProductType, _ = cmd.Flags().GetString("product")
	opts.Baseline, _ = cmd.Flags().GetString("baseline")
	opts.MaxItems, _ = cmd.Flags().GetInt("max-items")

	var err error
	if opts.Start, err = parseTimeFlag(cmd, "start"); err != nil {
		return err
	}
	if opts.End, err = parseTimeFlag(cmd, "end"); err != nil {
		return err
	}
	opts.End = endOfDayIfBare(opts.End)

	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.Sync(cmd.Context(), opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "synced %s/%s: baselines %v, found %d, downloaded %d\n",
		res.Collection, res.ProductType, res.Baselines, res.URLsFound, res.URLsDownloaded)
	for _, e := range res.Errors {
		fmt.Fprintln(os.Stderr, "  "+e)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("sync finished with %d errors", len(res.Errors))
	}
	return nil
}
