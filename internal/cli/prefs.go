package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage recipient notification preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <recipient-id>",
	Short: "Show a recipient's preference on a channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <recipient-id>",
	Short: "Update a recipient's preference on a channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsSet,
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored preference",
	RunE:  runPrefsList,
}

var prefsLinkCmd = &cobra.Command{
	Use:   "link <recipient-id>",
	Short: "Issue a Telegram connect link for a recipient",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsLink,
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsListCmd, prefsLinkCmd)

	for _, c := range []*cobra.Command{prefsGetCmd, prefsSetCmd} {
		c.Flags().StringP("channel", "C", "telegram", "Channel name")
	}
	prefsSetCmd.Flags().StringP("filter", "f", "", "URGENT_ONLY, URGENT_AND_SERIOUS, ALL or OFF")
	prefsSetCmd.Flags().String("address", "", "Channel address (chat ID, webhook target)")
	prefsSetCmd.Flags().Bool("enabled", true, "Enable notifications")
}

func runPrefsGet(cmd *cobra.Command, args []string) error {
	channel, _ := cmd.Flags().GetString("channel")

	return withApp(cmd, func(a *app) error {
		view, err := a.preferences.Get(cmd.Context(), args[0], channel)
		if err != nil {
			return fmt.Errorf("get preference: %w", err)
		}
		printPreference(view)
		return nil
	})
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	channel, _ := cmd.Flags().GetString("channel")
	filter, _ := cmd.Flags().GetString("filter")

	var upd alerts.PreferenceUpdate
	upd.Filter = model.TierFilter(filter)
	if cmd.Flags().Changed("enabled") {
		enabled, _ := cmd.Flags().GetBool("enabled")
		upd.Enabled = &enabled
	}
	if cmd.Flags().Changed("address") {
		address, _ := cmd.Flags().GetString("address")
		upd.Address = &address
	}

	return withApp(cmd, func(a *app) error {
		view, err := a.preferences.Set(cmd.Context(), args[0], channel, upd)
		if err != nil {
			return fmt.Errorf("set preference: %w", err)
		}
		printPreference(view)
		return nil
	})
}

func runPrefsList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		prefs, err := a.store.ListPreferences(cmd.Context())
		if err != nil {
			return fmt.Errorf("list preferences: %w", err)
		}
		if len(prefs) == 0 {
			fmt.Println("No preferences stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "RECIPIENT\tCHANNEL\tFILTER\tCONNECTED\n")
		for _, p := range prefs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", p.RecipientID, p.Channel, p.EffectiveFilter(), p.Connected())
		}
		w.Flush()
		return nil
	})
}

func runPrefsLink(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		if a.telegram == nil {
			return errors.New("telegram channel is not enabled in config")
		}
		token, expires, err := a.preferences.IssueLinkToken(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("issue link: %w", err)
		}
		fmt.Printf("Open %s to connect %s (expires %s)\n",
			a.telegram.DeepLink(token), args[0], expires.Format("15:04 MST"))
		return nil
	})
}

func printPreference(v alerts.PreferenceView) {
	fmt.Printf("Preference:\n")
	fmt.Printf("  Recipient:  %s\n", v.RecipientID)
	fmt.Printf("  Channel:    %s\n", v.Channel)
	fmt.Printf("  Enabled:    %t\n", v.Enabled)
	fmt.Printf("  Filter:     %s\n", v.Filter)
	fmt.Printf("  Connected:  %t\n", v.Connected)
}
