package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ogulcanaydogan/resource-sentinel/internal/config"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/metrics"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Resource Sentinel - campus resource alerts and depletion forecasts",
	Long: `Resource Sentinel triages campus events into urgency tiers, tracks the
alert lifecycle, forecasts when stocked items run out, and routes
notifications to recipients over Telegram, Slack, or webhooks.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.sentinel/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// app is the fully wired pipeline shared by the commands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       storage.Storage
	samples     *usage.Store
	estimator   *forecast.Estimator
	tracker     *tracker.Tracker
	router      *alerts.Router
	dispatcher  *alerts.Dispatcher
	preferences *alerts.Preferences
	telegram    *alerts.TelegramChannel
	bot         *alerts.TelegramBot
	metrics     *metrics.Metrics
	redis       *redis.Client
}

// newApp wires storage, forecasting, alerting and routing from config.
// withRuntime adds Go runtime collectors to the metrics registry.
func newApp(ctx context.Context, cfg *config.Config, withRuntime bool) (*app, error) {
	logger := newLogger(cfg)

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Target())
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(withRuntime),
	}

	a.samples = usage.NewStore(store)
	a.estimator = forecast.NewEstimator(store, store, a.samples, forecast.Config{
		Window:               cfg.Forecast.Window,
		ConfidenceSaturation: cfg.Forecast.ConfidenceSaturation,
	}, logger)
	a.estimator.SetRecorder(a.metrics)

	registry, err := a.initChannels()
	if err != nil {
		a.Close()
		return nil, err
	}
	dedupe, err := a.initDeduper(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.router = alerts.NewRouter(store, registry, dedupe, alerts.Config{
		Workers:         cfg.Notify.Workers,
		DeliveryTimeout: cfg.Notify.DeliveryTimeout,
		BodyLimit:       cfg.Notify.BodyLimit,
	}, logger)
	a.router.SetRecorder(a.metrics)

	a.dispatcher = alerts.NewDispatcher(a.router, cfg.Notify.RouteTimeout, logger)
	a.dispatcher.OnReport(a.metrics.ObserveReport)

	manager := tracker.NewAlertManager(store, logger)
	manager.SetRecorder(a.metrics)
	a.tracker = tracker.NewTracker(store, manager, a.samples, a.estimator, a.dispatcher, logger)

	a.preferences = alerts.NewPreferences(store, logger)
	if a.telegram != nil {
		a.bot = alerts.NewTelegramBot(a.preferences, a.telegram, logger)
	}
	return a, nil
}

// initChannels registers every enabled channel.
func (a *app) initChannels() (*alerts.Registry, error) {
	registry := alerts.NewRegistry()
	ch := a.cfg.Channels

	if ch.Telegram.Enabled && ch.Telegram.Token != "" {
		a.telegram = alerts.NewTelegramChannel(ch.Telegram.Token, ch.Telegram.APIURL, ch.Telegram.BotName)
		if err := registry.Register(a.telegram); err != nil {
			return nil, err
		}
	}
	if ch.Slack.Enabled && ch.Slack.WebhookURL != "" {
		if err := registry.Register(alerts.NewSlackChannel(ch.Slack.WebhookURL)); err != nil {
			return nil, err
		}
	}
	if ch.Webhook.Enabled && ch.Webhook.URL != "" {
		if err := registry.Register(alerts.NewWebhookChannel(ch.Webhook.URL, ch.Webhook.Secret)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// initDeduper selects the delivery dedupe backend.
func (a *app) initDeduper(ctx context.Context) (alerts.Deduper, error) {
	switch a.cfg.Notify.Dedupe {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
		}
		return alerts.NewRedisDeduper(a.redis, a.cfg.Notify.DedupeTTL), nil
	case "memory":
		return alerts.NewMemoryDeduper(), nil
	case "none":
		return nil, nil
	default:
		return alerts.NewLogDeduper(a.store), nil
	}
}

// Close waits for background deliveries and releases connections.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close storage", "error", err)
	}
}

// withApp loads config, wires the app and runs fn with it.
func withApp(cmd *cobra.Command, fn func(*app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
