package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/client"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download previously registered URLs",
	Long: `Downloads URLs filed in the local registry for a product, optionally
restricted to one baseline and a time range. Downloads are tracked: each
fetched file is recorded per baseline, failures land in the error log,
and a second run only fetches what is still missing.

Files go into the structured data tree
(mission/collection/product/baseline/yyyy/mm/dd) unless --out-dir names
a flat destination directory.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().String("collection", "", "collection name (required)")
	downloadCmd.Flags().String("product", "", "product type (required)")
	downloadCmd.Flags().String("baseline", "", "baseline version (all registered baselines when omitted)")
	downloadCmd.Flags().String("start", "", "range start (YYYY-MM-DD or ISO timestamp)")
	downloadCmd.Flags().String("end", "", "range end")
	downloadCmd.Flags().String("out-dir", "", "flat output directory instead of the data tree")
	downloadCmd.Flags().Bool("skip-existing", true, "skip files already on disk")
	downloadCmd.Flags().Bool("dry-run", false, "list what would be downloaded without fetching")
	_ = downloadCmd.MarkFlagRequired("collection")
	_ = downloadCmd.MarkFlagRequired("product")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	product, _ := cmd.Flags().GetString("product")
	baseline, _ := cmd.Flags().GetString("baseline")
	outDir, _ := cmd.Flags().GetString("out-dir")
	skipExisting, _ := cmd.Flags().GetBool("skip-existing")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	start, err := parseTimeFlag(cmd, "start")
	if err != nil {
		return err
	}
	end, err := parseTimeFlag(cmd, "end")
	if err != nil {
		return err
	}
	end = endOfDayIfBare(end)

	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.DownloadFromRegistry(cmd.Context(), collection, product, baseline,
		start, end, client.DownloadOptions{
			OutDir:       outDir,
			SkipExisting: skipExisting,
			DryRun:       dryRun,
		})
	if err != nil {
		return err
	}
	printDownloadResult(res)
	return nil
}

func printDownloadResult(res *client.DownloadResult) {
	fmt.Fprintf(os.Stderr, "downloaded %d, skipped %d, errors %d (%s)\n",
		len(res.Downloaded), len(res.Skipped), len(res.Errors), res.Elapsed.Round(time.Second))
	for _, e := range res.Errors {
		fmt.Fprintln(os.Stderr, "  "+e)
	}
}
