package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/spf13/cobra"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Submit and manage alerts",
}

var alertSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an event and route the resulting alert",
	RunE:  runAlertSubmit,
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	RunE:  runAlertList,
}

var alertAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertTransition("acknowledged"),
}

var alertResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertTransition("resolved"),
}

var alertDismissCmd = &cobra.Command{
	Use:   "dismiss <alert-id>",
	Short: "Dismiss an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertTransition("dismissed"),
}

var alertReopenCmd = &cobra.Command{
	Use:   "reopen <alert-id>",
	Short: "Return an acknowledged alert to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertTransition("reopened"),
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertSubmitCmd, alertListCmd, alertAckCmd, alertResolveCmd, alertDismissCmd, alertReopenCmd)

	alertSubmitCmd.Flags().StringP("category", "c", "", "Alert category (e.g. MAINTENANCE, EQUIPMENT_BREAKDOWN)")
	alertSubmitCmd.Flags().StringP("message", "m", "", "Event description")
	alertSubmitCmd.Flags().StringP("location", "L", "", "Location ID")
	alertSubmitCmd.Flags().String("item", "", "Related item ID")
	alertSubmitCmd.Flags().StringP("urgency", "u", "", "Explicit tier (URGENT, SERIOUS, DAY_TO_DAY)")
	alertSubmitCmd.Flags().String("by", "", "Submitter")
	_ = alertSubmitCmd.MarkFlagRequired("category")
	_ = alertSubmitCmd.MarkFlagRequired("location")

	alertListCmd.Flags().String("status", "", "Filter by status")
	alertListCmd.Flags().String("tier", "", "Filter by tier")
	alertListCmd.Flags().String("category", "", "Filter by category")
	alertListCmd.Flags().String("location", "", "Filter by location ID")
	alertListCmd.Flags().Bool("open", false, "Only pending and acknowledged alerts")
	alertListCmd.Flags().IntP("limit", "n", 50, "Maximum number of alerts")

	alertAckCmd.Flags().String("by", "", "Acting user")
	alertDismissCmd.Flags().String("by", "", "Acting user")
}

func runAlertSubmit(cmd *cobra.Command, _ []string) error {
	category, _ := cmd.Flags().GetString("category")
	message, _ := cmd.Flags().GetString("message")
	location, _ := cmd.Flags().GetString("location")
	item, _ := cmd.Flags().GetString("item")
	urgency, _ := cmd.Flags().GetString("urgency")
	by, _ := cmd.Flags().GetString("by")

	return withApp(cmd, func(a *app) error {
		alert, err := a.tracker.Submit(cmd.Context(), tracker.NewAlert{
			Category:    model.Category(category),
			Message:     message,
			LocationID:  location,
			ItemID:      item,
			Urgency:     model.Tier(strings.ToUpper(urgency)),
			SubmittedBy: by,
		})
		if err != nil {
			return fmt.Errorf("submit alert: %w", err)
		}
		printAlert(alert)
		return nil
	})
}

func runAlertList(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")
	tier, _ := cmd.Flags().GetString("tier")
	category, _ := cmd.Flags().GetString("category")
	location, _ := cmd.Flags().GetString("location")
	open, _ := cmd.Flags().GetBool("open")
	limit, _ := cmd.Flags().GetInt("limit")

	return withApp(cmd, func(a *app) error {
		list, err := a.tracker.Alerts().List(cmd.Context(), model.AlertFilter{
			Status:     model.AlertStatus(strings.ToUpper(status)),
			Tier:       model.Tier(strings.ToUpper(tier)),
			Category:   model.Category(strings.ToUpper(category)),
			LocationID: location,
			OpenOnly:   open,
			Limit:      limit,
		})
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tCREATED\tTIER\tSTATUS\tCATEGORY\tLOCATION\tMESSAGE\n")
		for _, al := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				al.ID, al.CreatedAt.Format("2006-01-02 15:04"),
				al.Tier, al.Status, al.Category, al.LocationID,
				truncateCell(al.Message, 48),
			)
		}
		w.Flush()
		return nil
	})
}

func runAlertTransition(verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		by := ""
		if f := cmd.Flags().Lookup("by"); f != nil {
			by = f.Value.String()
		}
		return withApp(cmd, func(a *app) error {
			m := a.tracker.Alerts()
			var (
				alert *model.Alert
				err   error
			)
			switch verb {
			case "acknowledged":
				alert, err = m.Acknowledge(cmd.Context(), args[0], by)
			case "resolved":
				alert, err = m.Resolve(cmd.Context(), args[0])
			case "dismissed":
				alert, err = m.Dismiss(cmd.Context(), args[0], by)
			default:
				alert, err = m.Reopen(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("alert %s: %w", args[0], err)
			}
			fmt.Printf("Alert %s %s (status %s)\n", alert.ID, verb, alert.Status)
			return nil
		})
	}
}

func printAlert(a *model.Alert) {
	fmt.Printf("Alert created:\n")
	fmt.Printf("  ID:        %s\n", a.ID)
	fmt.Printf("  Category:  %s\n", a.Category)
	fmt.Printf("  Tier:      %s\n", a.Tier)
	fmt.Printf("  Location:  %s\n", a.LocationID)
	fmt.Printf("  Message:   %s\n", a.Message)
}

func truncateCell(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
