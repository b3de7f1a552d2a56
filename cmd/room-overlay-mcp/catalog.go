package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ironsheep/room-overlay-mcp/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the configured product catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cat, err := cfg.LoadCatalog()
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}

		category, _ := cmd.Flags().GetString("category")
		products := cat.All()
		if category != "" {
			products = cat.ByCategory(catalog.Category(category))
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tSIZE (CM)\tIMAGE")
		for _, p := range products {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%gx%g\t%s\n", p.ID, p.Name, p.Category, p.WidthCm, p.HeightCm, p.ImageRef)
		}
		return tw.Flush()
	},
}

func init() {
	catalogCmd.Flags().String("category", "", "Only list products in this category")
	rootCmd.AddCommand(catalogCmd)
}
