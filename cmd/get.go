package cmd

import (
	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/client"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Search and download in one step",
	Long: `Combines search and download: finds product URLs by time range or
orbit and fetches them immediately, without touching the registry or
download tracking. Useful for one-off retrievals.`,
	RunE: runGet,
}

func init() {
	getCmd.Flags().String("collection", "", "collection name (required)")
	getCmd.Flags().String("product", "", "product type (required)")
	getCmd.Flags().String("baseline", "", "baseline version, e.g. BC")
	getCmd.Flags().String("start", "", "range start (YYYY-MM-DD or ISO timestamp)")
	getCmd.Flags().String("end", "", "range end")
	getCmd.Flags().String("orbit", "", "orbit and frame, e.g. 02163E")
	getCmd.Flags().Bool("use-catalog", false, "narrow the window to the baseline's known coverage")
	getCmd.Flags().Int("max-items", 0, "cap on downloaded files (0 for the default)")
	getCmd.Flags().String("format", "", "preferred enclosure format, e.g. hdr")
	getCmd.Flags().String("out-dir", "", "flat output directory instead of the data tree")
	getCmd.Flags().Bool("skip-existing", true, "skip files already on disk")
	getCmd.Flags().Bool("dry-run", false, "list what would be downloaded without fetching")
	_ = getCmd.MarkFlagRequired("collection")
	_ = getCmd.MarkFlagRequired("product")

	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, _ []string) error {
	sOpts, err := searchOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out-dir")
	skipExisting, _ := cmd.Flags().GetBool("skip-existing")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.Get(cmd.Context(), sOpts, client.DownloadOptions{
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
