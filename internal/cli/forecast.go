package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/export"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/spf13/cobra"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Record and inspect usage samples",
}

var sampleAddCmd = &cobra.Command{
	Use:   "add <item-id> <usage-rate>",
	Short: "Record a daily usage observation",
	Args:  cobra.ExactArgs(2),
	RunE:  runSampleAdd,
}

var sampleListCmd = &cobra.Command{
	Use:   "list <item-id>",
	Short: "Show recent usage samples, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runSampleList,
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Depletion forecasts",
}

var forecastShowCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Estimate when an item runs out",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecastShow,
}

var forecastListCmd = &cobra.Command{
	Use:   "list",
	Short: "List predictions for every item, most urgent first",
	RunE:  runForecastList,
}

var forecastRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute the cached days until depletion of every item",
	RunE:  runForecastRefresh,
}

var forecastExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a predictions snapshot to the export directory or S3",
	RunE:  runForecastExport,
}

func init() {
	rootCmd.AddCommand(sampleCmd, forecastCmd)
	sampleCmd.AddCommand(sampleAddCmd, sampleListCmd)
	forecastCmd.AddCommand(forecastShowCmd, forecastListCmd, forecastRefreshCmd, forecastExportCmd)

	sampleAddCmd.Flags().String("at", "", "Observation time, RFC 3339 (default: now)")
	sampleListCmd.Flags().IntP("limit", "n", forecast.DefaultWindow, "Maximum number of samples")
	forecastExportCmd.Flags().String("dir", "", "Export directory (default from config)")
}

func runSampleAdd(cmd *cobra.Command, args []string) error {
	var rate float64
	if _, err := fmt.Sscan(args[1], &rate); err != nil {
		return fmt.Errorf("usage rate %q: %w", args[1], err)
	}
	var at time.Time
	if v, _ := cmd.Flags().GetString("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		at = t
	}

	return withApp(cmd, func(a *app) error {
		res, err := a.tracker.RecordUsage(cmd.Context(), args[0], rate, at)
		if err != nil {
			return fmt.Errorf("record usage: %w", err)
		}
		fmt.Printf("Recorded usage %.2f for %s at %s\n", res.Sample.UsageRate, res.Sample.ItemID,
			res.Sample.ObservedAt.Format(time.RFC3339))
		if res.Forecast != nil {
			fmt.Printf("  Days left:  %s\n", formatDays(res.Forecast.DaysUntilDepletion))
			fmt.Printf("  Tier:       %s (%s)\n", res.Forecast.Tier, res.Forecast.LegacyTier)
		}
		if res.Alert != nil {
			fmt.Printf("  Alert:      %s\n", res.Alert.ID)
		}
		return nil
	})
}

func runSampleList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withApp(cmd, func(a *app) error {
		seq, err := a.samples.Recent(cmd.Context(), args[0], limit)
		if err != nil {
			return fmt.Errorf("list samples: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "OBSERVED\tUSAGE RATE\n")
		for s := range seq {
			fmt.Fprintf(w, "%s\t%.2f\n", s.ObservedAt.Format("2006-01-02 15:04"), s.UsageRate)
		}
		w.Flush()
		return nil
	})
}

func runForecastShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		f, ok, err := a.estimator.Estimate(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("estimate: %w", err)
		}
		if !ok {
			fmt.Println("Not enough usage data to forecast this item.")
			return nil
		}
		fmt.Printf("Forecast for %s:\n", args[0])
		fmt.Printf("  Average daily usage:  %.2f\n", f.AverageDailyUsage)
		fmt.Printf("  Days until depleted:  %s\n", formatDays(f.DaysUntilDepletion))
		fmt.Printf("  Tier:                 %s\n", f.Tier)
		fmt.Printf("  Legacy tier:          %s\n", f.LegacyTier)
		fmt.Printf("  Confidence:           %.0f%% (%d samples)\n", f.Confidence*100, f.SampleCount)
		return nil
	})
}

func runForecastList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		rows, err := a.estimator.Predictions(cmd.Context())
		if err != nil {
			return fmt.Errorf("predictions: %w", err)
		}
		if len(rows) == 0 {
			fmt.Println("No forecasts yet. Record usage with 'sentinel sample add'.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "TIER\tRESOURCE\tLOCATION\tCURRENT\tDAYS LEFT\tCONFIDENCE\n")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.0f%%\n",
				r.Tier, r.ResourceName, r.Location, r.CurrentQuantity,
				formatDays(r.DaysUntilDepletion), r.Confidence*100,
			)
		}
		w.Flush()
		return nil
	})
}

func runForecastRefresh(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(a *app) error {
		n, err := a.estimator.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("refresh forecasts: %w", err)
		}
		fmt.Printf("Refreshed %d item forecasts\n", n)
		return nil
	})
}

func runForecastExport(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")

	return withApp(cmd, func(a *app) error {
		sink, err := newSink(cmd, a, dir)
		if err != nil {
			return err
		}
		location, err := export.NewExporter(a.estimator, sink, a.logger).Export(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", location)
		return nil
	})
}

// newSink prefers S3 when a bucket is configured and no directory was
// given on the command line.
func newSink(cmd *cobra.Command, a *app, dir string) (export.Sink, error) {
	s3cfg := a.cfg.Export.S3
	if dir == "" && s3cfg.Bucket != "" {
		return export.NewS3Sink(cmd.Context(), export.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			Prefix:          s3cfg.Prefix,
			PathStyle:       s3cfg.PathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
	}
	if dir == "" {
		dir = a.cfg.Export.Dir
	}
	return export.NewFileSink(dir), nil
}
