package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections, products, and baselines",
}

func init() {
	collectionsCmd := &cobra.Command{
		Use:   "collections",
		Short: "List configured collections",
		RunE:  runListCollections,
	}

	productsCmd := &cobra.Command{
		Use:   "products",
		Short: "List product types in a collection",
		Long: `Lists the product types of a collection from its queryables, fetched
on first use and cached on disk. With --from-catalog the built catalog
is consulted instead; with --verify the queryables are re-fetched from
the service.`,
		RunE: runListProducts,
	}
	productsCmd.Flags().String("collection", "", "collection name (required)")
	productsCmd.Flags().Bool("from-catalog", false, "read from the built catalog")
	productsCmd.Flags().Bool("verify", false, "refresh queryables from the service")
	_ = productsCmd.MarkFlagRequired("collection")

	baselinesCmd := &cobra.Command{
		Use:   "baselines",
		Short: "List baseline versions",
		Long: `Lists baseline versions for a collection. With --product and --verify
the service is probed and only baselines that actually hold data are
reported; with --from-catalog the built catalog is consulted.`,
		RunE: runListBaselines,
	}
	baselinesCmd.Flags().String("collection", "", "collection name (required)")
	baselinesCmd.Flags().String("product", "", "product type (required with --verify or --from-catalog)")
	baselinesCmd.Flags().Bool("from-catalog", false, "read from the built catalog")
	baselinesCmd.Flags().Bool("verify", false, "probe the service for baselines that hold data")
	_ = baselinesCmd.MarkFlagRequired("collection")

	listCmd.AddCommand(collectionsCmd)
	listCmd.AddCommand(productsCmd)
	listCmd.AddCommand(baselinesCmd)
	rootCmd.AddCommand(listCmd)
}

func runListCollections(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	for _, name := range c.ListCollections() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runListProducts(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	fromBuilt, _ := cmd.Flags().GetBool("from-catalog")
	verify, _ := cmd.Flags().GetBool("verify")

	c, err := newClient()
	if err != nil {
		return err
	}
	products, err := c.ListProducts(cmd.Context(), collection, fromBuilt, verify)
	if err != nil {
		return err
	}
	for _, p := range products {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func runListBaselines(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	product, _ := cmd.Flags().GetString("product")
	fromBuilt, _ := cmd.Flags().GetBool("from-catalog")
	verify, _ := cmd.Flags().GetBool("verify")

	c, err := newClient()
	if err != nil {
		return err
	}
	baselines, err := c.ListBaselines(cmd.Context(), collection, product, fromBuilt, verify)
	if err != nil {
		return err
	}
	for _, b := range baselines {
		fmt.Fprintln(cmd.OutOrStdout(), b)
	}
	return nil
}
