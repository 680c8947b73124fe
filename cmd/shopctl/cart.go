package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-storefront/internal/cart"
)

func newCartCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show or change the cart",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Cart.Fetch(cmd.Context()); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), a.client.Cart.Snapshot())
		},
	}

	var quantity int
	var attrs []string
	add := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product, optionally with attribute selections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			selection, err := parseSelection(attrs)
			if err != nil {
				return err
			}
			if err := a.client.Cart.Add(cmd.Context(), cart.AddInput{
				ProductID:  productID,
				Quantity:   quantity,
				Attributes: selection,
			}); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), a.client.Cart.Snapshot())
		},
	}
	add.Flags().IntVarP(&quantity, "quantity", "q", 1, "units to add")
	add.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "attribute selection as key=value[,value]; repeatable")

	update := &cobra.Command{
		Use:   "update <line-id> <quantity>",
		Short: "Set the quantity of a cart line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity must be a number: %w", err)
			}
			if err := a.client.Cart.UpdateQuantity(cmd.Context(), lineID, qty); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), a.client.Cart.Snapshot())
		},
	}

	remove := &cobra.Command{
		Use:   "remove <line-id>",
		Short: "Remove a cart line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.Cart.Remove(cmd.Context(), lineID); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), a.client.Cart.Snapshot())
		},
	}

	cmd.AddCommand(list, add, update, remove)
	return cmd
}

func printCart(w io.Writer, snap cart.Snapshot) error {
	if len(snap.Items) == 0 {
		_, err := fmt.Fprintln(w, "cart is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tPRODUCT\tQTY\tUNIT\tSUBTOTAL\tATTRIBUTES")
	for _, line := range snap.Items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			line.ID,
			line.Product.Name,
			line.Quantity,
			line.PriceWithAttributes.StringFixed(2),
			line.Subtotal.StringFixed(2),
			formatSelection(line.SelectedAttributes),
		)
	}
	fmt.Fprintf(tw, "\t\t%d\t\t%s\t\n", snap.Count(), snap.Total.StringFixed(2))
	return tw.Flush()
}

// parseSelection reads key=value[,value] pairs. Numeric values select by id,
// anything else by label.
func parseSelection(pairs []string) (cart.Selection, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	sel := cart.Selection{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("attribute %q must look like key=value", pair)
		}
		for _, v := range strings.Split(raw, ",") {
			if strings.TrimSpace(v) == "" {
				continue
			}
			sel[key] = append(sel[key], cart.ParseAttributeValue(v))
		}
	}
	return sel, nil
}

func formatSelection(sel cart.Selection) string {
	if len(sel) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values := make([]string, 0, len(sel[k]))
		for _, v := range sel[k] {
			values = append(values, v.String())
		}
		parts = append(parts, k+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, " ")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid id", raw)
	}
	return id, nil
}
