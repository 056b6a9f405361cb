package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/client"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage local queryables and built catalogs",
}

func init() {
	updateCmd := &cobra.Command{
		Use:   "update [collection]...",
		Short: "Download collection queryables",
		Long: `Fetches the searchable-properties schema (queryables) for the named
collections, or all configured ones, and stores them in the catalog
directory. Existing files are kept unless --force is set.`,
		RunE: runCatalogUpdate,
	}
	updateCmd.Flags().Bool("force", false, "re-fetch queryables that are already on disk")

	buildCmd := &cobra.Command{
		Use:   "build [collection]",
		Short: "Build or update collection catalogs",
		Long: `Builds per-collection catalogs recording, for each product and
baseline, the covered time range, orbit frames, and granule count.
Catalogs update incrementally: a rebuild only probes the service for
time windows outside the already-known coverage. Use --force to discard
the existing catalog and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCatalogBuild,
	}
	buildCmd.Flags().String("product", "", "build only this product type")
	buildCmd.Flags().String("baseline", "", "build only this baseline")
	buildCmd.Flags().Bool("latest-baseline", false, "build only the latest baseline per product")
	buildCmd.Flags().String("start", "", "coverage window start (default mission start)")
	buildCmd.Flags().String("end", "", "coverage window end (default now)")
	buildCmd.Flags().Bool("force", false, "discard the existing catalog and rebuild")
	buildCmd.Flags().String("out-dir", "", "write catalogs to this directory instead of the default")

	catalogCmd.AddCommand(updateCmd)
	catalogCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogUpdate(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	c, err := newClient()
	if err != nil {
		return err
	}
	var collections []string
	if len(args) > 0 {
		collections = args
	}
	results, err := c.UpdateCatalogs(cmd.Context(), collections, force)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, results[name])
	}
	return nil
}

func runCatalogBuild(cmd *cobra.Command, args []string) error {
	opts := client.BuildCatalogOptions{}
	if len(args) == 1 {
		opts.Collection = args[0]
	}
	opts.ProductType, _ = cmd.Flags().GetString("product")
	opts.Baseline, _ = cmd.Flags().GetString("baseline")
	opts.LatestBaseline, _ = cmd.Flags().GetBool("latest-baseline")
	opts.Force, _ = cmd.Flags().GetBool("force")
	opts.OutDir, _ = cmd.Flags().GetString("out-dir")

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
	results, err := c.BuildCatalog(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "no catalogs written")
		return fmt.Errorf("catalog build produced no output")
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, results[name])
	}
	return nil
}
