package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/client"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for product URLs by time range or orbit",
	Long: `Searches the STAC catalog for product download URLs. Results are
printed one URL per line. A search is either over a time range
(--start/--end) or over a single orbit and frame (--orbit); the two
cannot be combined.

With --save the URLs are also filed into the local registry, routed to
per-baseline records by the baseline in each filename.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("collection", "", "collection name (required)")
	searchCmd.Flags().String("product", "", "product type (required)")
	searchCmd.Flags().String("baseline", "", "baseline version, e.g. BC")
	searchCmd.Flags().String("start", "", "range start (YYYY-MM-DD or ISO timestamp)")
	searchCmd.Flags().String("end", "", "range end")
	searchCmd.Flags().String("orbit", "", "orbit and frame, e.g. 02163E")
	searchCmd.Flags().Bool("use-catalog", false, "narrow the window to the baseline's known coverage")
	searchCmd.Flags().Int("max-items", 0, "cap on returned URLs (0 for the default)")
	searchCmd.Flags().String("format", "", "preferred enclosure format, e.g. hdr")
	searchCmd.Flags().Bool("save", false, "file results into the local registry")
	searchCmd.Flags().Bool("count", false, "print only the result count")
	_ = searchCmd.MarkFlagRequired("collection")
	_ = searchCmd.MarkFlagRequired("product")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	opts, err := searchOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	save, _ := cmd.Flags().GetBool("save")
	countOnly, _ := cmd.Flags().GetBool("count")

	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.Search(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if countOnly {
		fmt.Fprintln(cmd.OutOrStdout(), res.TotalCount)
	} else {
		for _, u := range res.URLs {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
	}
	if len(res.BaselinesFound) > 1 {
		fmt.Fprintf(os.Stderr, "found %d URLs across baselines %v\n", res.TotalCount, res.BaselinesFound)
	}

	if save {
		n, files, err := c.SaveToRegistry(res.URLs, opts.Collection, opts.ProductType)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "registered %d new URLs in %d files\n", n, len(files))
	}
	return nil
}

func searchOptionsFromFlags(cmd *cobra.Command) (client.SearchOptions, error) {
	var opts client.SearchOptions
	opts.Collection, _ = cmd.Flags().GetString("collection")
	opts.ProductType, _ = cmd.Flags().GetString("product")
	opts.Baseline, _ = cmd.Flags().GetString("baseline")
	opts.Orbit, _ = cmd.Flags().GetString("orbit")
	opts.UseCatalog, _ = cmd.Flags().GetBool("use-catalog")
	opts.MaxItems, _ = cmd.Flags().GetInt("max-items")
	opts.Format, _ = cmd.Flags().GetString("format")

	var err error
	if opts.Start, err = parseTimeFlag(cmd, "start"); err != nil {
		return opts, err
	}
	if opts.End, err = parseTimeFlag(cmd, "end"); err != nil {
		return opts, err
	}
	opts.End = endOfDayIfBare(opts.End)
	return opts, nil
}

// endOfDayIfBare widens a bare end date to cover its whole day, so
// --end 2025-06-03 includes products sensed on June 3rd.
func endOfDayIfBare(end time.Time) time.Time {
	if end.IsZero() || !end.Equal(end.Truncate(24*time.Hour)) {
		return end
	}
	return end.Add(24*time.Hour - time.Second)
}
