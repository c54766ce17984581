package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Inspect notification channels",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the enabled notification channels",
	RunE:  runChannelsList,
}

var notifyCmd = &cobra.Command{
	Use:   "notify <recipient-id>",
	Short: "Send a direct message to a recipient through their channels",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotify,
}

func init() {
	rootCmd.AddCommand(channelsCmd, notifyCmd)
	channelsCmd.AddCommand(channelsListCmd)

	notifyCmd.Flags().StringP("title", "t", "Resource Sentinel", "Message title")
	notifyCmd.Flags().StringP("body", "b", "", "Message body")
	_ = notifyCmd.MarkFlagRequired("body")
}

func runChannelsList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		names := a.router.Channels().List()
		if len(names) == 0 {
			fmt.Println("No channels enabled. Configure channels.telegram, channels.slack or channels.webhook.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	})
}

func runNotify(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	body, _ := cmd.Flags().GetString("body")

	return withApp(cmd, func(a *app) error {
		report := a.router.RouteText(cmd.Context(), args[0], title, body)
		if len(report.Deliveries) == 0 {
			fmt.Println("Nothing was sent.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "RECIPIENT\tCHANNEL\tOUTCOME\tREASON\n")
		for _, d := range report.Deliveries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.RecipientID, d.Channel, d.Outcome, d.Reason)
		}
		w.Flush()
		return nil
	})
}
