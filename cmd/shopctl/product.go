package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-storefront/internal/catalog"
)

func newProductCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Browse the catalog",
	}

	get := &cobra.Command{
		Use:   "get <slug>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.Catalog.Product(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (#%d)\n", p.Name, p.ID)
			fmt.Fprintf(out, "category: %s\n", p.Category)
			if p.DiscountPercentage.IsPositive() {
				fmt.Fprintf(out, "price: %s (was %s, -%s%%)\n", p.FinalPrice().StringFixed(2), p.Price.StringFixed(2), p.DiscountPercentage.String())
			} else {
				fmt.Fprintf(out, "price: %s\n", p.Price.StringFixed(2))
			}
			return nil
		},
	}

	var q catalog.Query
	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.client.Catalog.Products(cmd.Context(), q)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLUG\tNAME\tPRICE")
			for _, p := range page.Items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Slug, p.Name, p.FinalPrice().StringFixed(2))
			}
			fmt.Fprintf(tw, "page %d, %d of %d\n", page.Page, len(page.Items), page.Total)
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&q.Page, "page", 1, "page number")
	list.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	list.Flags().StringVar(&q.Category, "category", "", "filter by category")
	list.Flags().StringVar(&q.Search, "search", "", "filter by name")

	cmd.AddCommand(get, list)
	return cmd
}
