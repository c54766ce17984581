package cli

import (
	"fmt"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/seed"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load locations, items, usage history and recipients from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Bool("refresh", true, "Recompute cached forecasts after loading")
}

func runSeed(cmd *cobra.Command, args []string) error {
	fixture, err := seed.Load(args[0])
	if err != nil {
		return err
	}
	refresh, _ := cmd.Flags().GetBool("refresh")

	return withApp(cmd, func(a *app) error {
		sum, err := fixture.Apply(cmd.Context(), a.store, a.samples, a.logger)
		if err != nil {
			return fmt.Errorf("apply fixture: %w", err)
		}
		fmt.Printf("Seeded:\n")
		fmt.Printf("  Locations:   %d\n", sum.Locations)
		fmt.Printf("  Items:       %d\n", sum.Items)
		fmt.Printf("  Samples:     %d\n", sum.Samples)
		fmt.Printf("  Recipients:  %d\n", sum.Recipients)

		if refresh {
			n, err := a.estimator.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh forecasts: %w", err)
			}
			fmt.Printf("  Forecasts:   %d\n", n)
		}
		return nil
	})
}
