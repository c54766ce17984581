package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ogulcanaydogan/resource-sentinel/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the optional gRPC health service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "HTTP listen address (default from config)")
	serveCmd.Flags().String("grpc-listen", "", "gRPC health listen address (default from config, empty disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if listen, _ := cmd.Flags().GetString("grpc-listen"); listen != "" {
		cfg.Server.GRPCListen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	apiServer := server.NewServer(server.Deps{
		Store:       a.store,
		Tracker:     a.tracker,
		Samples:     a.samples,
		Estimator:   a.estimator,
		Router:      a.router,
		Preferences: a.preferences,
		Telegram:    a.telegram,
		Bot:         a.bot,
		Metrics:     a.metrics.Handler(),
		MaxBodySize: cfg.Server.MaxBodySize,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	var health *server.HealthService
	if cfg.Server.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCListen)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		health = server.NewHealthService(a.store, logger)
		go func() {
			if err := health.Serve(ctx, lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("api started", "listen", cfg.Server.Listen, "channels", a.router.Channels().List())
		fmt.Fprintf(os.Stderr, "Resource Sentinel listening on %s\n", cfg.Server.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		if health != nil {
			health.Stop()
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("api stopped")
	return nil
}
