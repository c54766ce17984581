package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/spf13/cobra"
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Adjust, move and list tracked items",
}

var stockAdjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Add to or take from an item's stock",
	RunE:  runStockAdjust,
}

var stockMoveCmd = &cobra.Command{
	Use:   "move <item-id>",
	Short: "Move an item between two locations of the same type",
	Args:  cobra.ExactArgs(1),
	RunE:  runStockMove,
}

var stockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked items",
	RunE:  runStockList,
}

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Manage locations",
}

var locationAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Create or replace a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationAdd,
}

var locationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locations",
	RunE:  runLocationList,
}

func init() {
	rootCmd.AddCommand(stockCmd, locationCmd)
	stockCmd.AddCommand(stockAdjustCmd, stockMoveCmd, stockListCmd)
	locationCmd.AddCommand(locationAddCmd, locationListCmd)

	stockAdjustCmd.Flags().StringP("location", "L", "", "Location ID")
	stockAdjustCmd.Flags().String("item", "", "Item ID")
	stockAdjustCmd.Flags().String("name", "", "Item name, created when it does not exist")
	stockAdjustCmd.Flags().Int64P("delta", "d", 0, "Quantity to add (negative to take)")
	stockAdjustCmd.Flags().Int64("capacity", 0, "Full stock level for a new item (default: delta)")
	stockAdjustCmd.Flags().String("reason", "", "Reason for the change")
	stockAdjustCmd.Flags().String("by", "", "Submitter")
	_ = stockAdjustCmd.MarkFlagRequired("location")
	_ = stockAdjustCmd.MarkFlagRequired("delta")

	stockMoveCmd.Flags().String("from", "", "Source location ID")
	stockMoveCmd.Flags().String("to", "", "Destination location ID")
	stockMoveCmd.Flags().String("note", "", "Note")
	stockMoveCmd.Flags().String("by", "", "Submitter")
	_ = stockMoveCmd.MarkFlagRequired("from")
	_ = stockMoveCmd.MarkFlagRequired("to")

	locationAddCmd.Flags().String("name", "", "Location name")
	locationAddCmd.Flags().String("type", "", "Location type (e.g. print, library)")
	locationAddCmd.Flags().String("campus", "", "Campus name")
	_ = locationAddCmd.MarkFlagRequired("name")
	_ = locationAddCmd.MarkFlagRequired("type")
}

func runStockAdjust(cmd *cobra.Command, _ []string) error {
	location, _ := cmd.Flags().GetString("location")
	itemID, _ := cmd.Flags().GetString("item")
	name, _ := cmd.Flags().GetString("name")
	delta, _ := cmd.Flags().GetInt64("delta")
	capacity, _ := cmd.Flags().GetInt64("capacity")
	reason, _ := cmd.Flags().GetString("reason")
	by, _ := cmd.Flags().GetString("by")

	return withApp(cmd, func(a *app) error {
		item, alert, err := a.tracker.ChangeInventory(cmd.Context(), tracker.InventoryChange{
			LocationID:  location,
			ItemID:      itemID,
			ItemName:    name,
			Delta:       delta,
			Capacity:    capacity,
			Reason:      reason,
			SubmittedBy: by,
		})
		if err != nil {
			return fmt.Errorf("adjust stock: %w", err)
		}
		fmt.Printf("%s now at %d of %d (alert %s)\n", item.Name, item.CurrentQuantity, item.Quantity, alert.ID)
		return nil
	})
}

func runStockMove(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	note, _ := cmd.Flags().GetString("note")
	by, _ := cmd.Flags().GetString("by")

	return withApp(cmd, func(a *app) error {
		item, alert, err := a.tracker.MoveResource(cmd.Context(), tracker.Movement{
			ItemID:         args[0],
			FromLocationID: from,
			ToLocationID:   to,
			Note:           note,
			SubmittedBy:    by,
		})
		if err != nil {
			return fmt.Errorf("move item: %w", err)
		}
		fmt.Printf("%s\n(item %s, alert %s)\n", alert.Message, item.ID, alert.ID)
		return nil
	})
}

func runStockList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		items, err := a.store.ListItems(cmd.Context())
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if len(items) == 0 {
			fmt.Println("No items tracked. Use 'sentinel stock adjust' or 'sentinel seed' to add some.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tNAME\tLOCATION\tCURRENT\tCAPACITY\tDAYS LEFT\n")
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				it.ID, it.Name, it.LocationID, it.CurrentQuantity, it.Quantity, formatDays(it.DaysUntilDepletion))
		}
		w.Flush()
		return nil
	})
}

func runLocationAdd(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	typ, _ := cmd.Flags().GetString("type")
	campus, _ := cmd.Flags().GetString("campus")

	return withApp(cmd, func(a *app) error {
		loc := &model.Location{ID: args[0], Name: name, Type: typ, Campus: campus}
		if err := a.store.UpsertLocation(cmd.Context(), loc); err != nil {
			return fmt.Errorf("save location: %w", err)
		}
		fmt.Printf("Location %s saved: %s (%s)\n", loc.ID, loc.DisplayName(), loc.Type)
		return nil
	})
}

func runLocationList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		locs, err := a.store.ListLocations(cmd.Context())
		if err != nil {
			return fmt.Errorf("list locations: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tNAME\tTYPE\n")
		for _, l := range locs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", l.ID, l.DisplayName(), l.Type)
		}
		w.Flush()
		return nil
	})
}

func formatDays(days *int64) string {
	if days == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *days)
}
