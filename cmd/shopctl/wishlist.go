package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWishlistCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wishlist",
		Short: "Show or change the wishlist",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the wishlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Wishlist.Fetch(cmd.Context()); err != nil {
				return err
			}
			items := a.client.Wishlist.Items()
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				_, err := fmt.Fprintln(out, "wishlist is empty")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRODUCT\tNAME\tPRICE")
			for _, entry := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", entry.ProductID, entry.Product.Name, entry.Product.Price.StringFixed(2))
			}
			return tw.Flush()
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <product-id>",
		Short: "Add the product if absent, remove it otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := a.client.Wishlist.Toggle(cmd.Context(), productID)
			if err != nil {
				return err
			}
			msg := res.Message
			if msg == "" {
				msg = "removed"
				if res.InWishlist {
					msg = "added"
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		},
	}

	has := &cobra.Command{
		Use:   "has <product-id>",
		Short: "Report whether the product is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.Wishlist.Fetch(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.client.Wishlist.IsInWishlist(productID))
			return err
		},
	}

	cmd.AddCommand(list, toggle, has)
	return cmd
}
