package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/tracker"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and manage download tracking state",
	Long: `The state command group works on the per-baseline download tracking
records: what has been registered, downloaded, processed, and what
failed. Records live under the registry directory and are updated by
download and sync runs.`,
}

func init() {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show tracking statistics",
		Long: `Shows URL, download, processed, and error counts. Without flags every
tracked (collection, product, baseline) triple is listed.`,
		RunE: runStateShow,
	}
	showCmd.Flags().String("collection", "", "restrict to one collection")
	showCmd.Flags().String("product", "", "restrict to one product type")
	showCmd.Flags().String("baseline", "", "restrict to one baseline")

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending downloads or pending local files",
		Long: `Lists registered URLs not yet downloaded. With --marks it instead
lists downloaded local files not yet marked as processed.`,
		RunE: runStatePending,
	}
	pendingCmd.Flags().String("collection", "", "collection name (required)")
	pendingCmd.Flags().String("product", "", "product type (required)")
	pendingCmd.Flags().String("baseline", "", "baseline version (required)")
	pendingCmd.Flags().String("start", "", "range start (YYYY-MM-DD or ISO timestamp)")
	pendingCmd.Flags().String("end", "", "range end")
	pendingCmd.Flags().Bool("marks", false, "list unprocessed local files instead of pending URLs")
	_ = pendingCmd.MarkFlagRequired("collection")
	_ = pendingCmd.MarkFlagRequired("product")
	_ = pendingCmd.MarkFlagRequired("baseline")

	markCmd := &cobra.Command{
		Use:   "mark [path]...",
		Short: "Mark downloaded files as processed",
		Long: `Marks local files as processed. Processed files become eligible for
cleanup while staying recorded as downloaded, so they are never fetched
again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStateMark,
	}
	markCmd.Flags().String("collection", "", "collection name (required)")
	markCmd.Flags().String("product", "", "product type (required)")
	markCmd.Flags().String("baseline", "", "baseline version (required)")
	_ = markCmd.MarkFlagRequired("collection")
	_ = markCmd.MarkFlagRequired("product")
	_ = markCmd.MarkFlagRequired("baseline")

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete processed files from disk",
		Long: `Deletes local files that are marked as processed and still exist on
disk. The download record is kept, so cleaned-up files are not fetched
again by sync.`,
		RunE: runStateCleanup,
	}
	cleanupCmd.Flags().String("collection", "", "collection name (required)")
	cleanupCmd.Flags().String("product", "", "product type (required)")
	cleanupCmd.Flags().String("baseline", "", "baseline version (required)")
	cleanupCmd.Flags().Bool("dry-run", false, "list deletable files without removing them")
	_ = cleanupCmd.MarkFlagRequired("collection")
	_ = cleanupCmd.MarkFlagRequired("product")
	_ = cleanupCmd.MarkFlagRequired("baseline")

	stateCmd.AddCommand(showCmd)
	stateCmd.AddCommand(pendingCmd)
	stateCmd.AddCommand(markCmd)
	stateCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateShow(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	product, _ := cmd.Flags().GetString("product")
	baseline, _ := cmd.Flags().GetString("baseline")

	c, err := newClient()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if collection != "" && product != "" && baseline != "" {
		tr, err := c.Tracker(collection, product, baseline)
		if err != nil {
			return err
		}
		stats, err := tr.GetStats(time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		printStats(out, tracker.Triple{Collection: collection, Product: product, Baseline: baseline}, stats)
		return nil
	}

	all, err := c.State().AllStats()
	if err != nil {
		return err
	}
	triples := make([]tracker.Triple, 0, len(all))
	for tr := range all {
		if collection != "" && tr.Collection != collection {
			continue
		}
		if product != "" && tr.Product != product {
			continue
		}
		triples = append(triples, tr)
	}
	sort.Slice(triples, func(i, j int) bool {
		a, b := triples[i], triples[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.Product != b.Product {
			return a.Product < b.Product
		}
		return a.Baseline < b.Baseline
	})
	for _, tr := range triples {
		printStats(out, tr, all[tr])
	}
	return nil
}

func printStats(out io.Writer, tr tracker.Triple, s tracker.Stats) {
	fmt.Fprintf(out, "%s/%s/%s: urls %d, downloaded %d, marked %d, errors %d, pending %d+%d\n",
		tr.Collection, tr.Product, tr.Baseline,
		s.TotalURLs, s.Downloaded, s.Marked, s.Errors, s.PendingDownloads, s.PendingMarks)
}

func runStatePending(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	product, _ := cmd.Flags().GetString("product")
	baseline, _ := cmd.Flags().GetString("baseline")
	marks, _ := cmd.Flags().GetBool("marks")

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
	tr, err := c.Tracker(collection, product, baseline)
	if err != nil {
		return err
	}

	var set map[string]struct{}
	if marks {
		set, err = tr.PendingMarkPaths(start, end)
	} else {
		set, err = tr.PendingDownloads(start, end)
	}
	if err != nil {
		return err
	}
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		fmt.Fprintln(cmd.OutOrStdout(), item)
	}
	return nil
}

func runStateMark(cmd *cobra.Command, args []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	product, _ := cmd.Flags().GetString("product")
	baseline, _ := cmd.Flags().GetString("baseline")

	c, err := newClient()
	if err != nil {
		return err
	}
	tr, err := c.Tracker(collection, product, baseline)
	if err != nil {
		return err
	}

	marked := 0
	for _, path := range args {
		ok, err := tr.Mark(path)
		if err != nil {
			return err
		}
		if ok {
			marked++
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: no sensing time in filename\n", path)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "marked %d of %d files\n", marked, len(args))
	return nil
}

func runStateCleanup(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	product, _ := cmd.Flags().GetString("product")
	baseline, _ := cmd.Flags().GetString("baseline")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	c, err := newClient()
	if err != nil {
		return err
	}
	tr, err := c.Tracker(collection, product, baseline)
	if err != nil {
		return err
	}

	deleted, err := tr.CleanupMarked(dryRun)
	if err != nil {
		return err
	}
	for _, f := range deleted {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %d files\n", verb, len(deleted))
	return nil
}
