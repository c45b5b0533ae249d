package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/resilient-systems/wireline/internal/client"
	"github.com/resilient-systems/wireline/internal/config"
	"github.com/resilient-systems/wireline/internal/logging"
	"github.com/resilient-systems/wireline/internal/metrics"
	"github.com/resilient-systems/wireline/internal/wsession"
)

const shutdownTimeout = 30 * time.Second

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wireline",
		Short: "Wireline - reliability layer for upstream API traffic",
		Long: `Wireline wraps upstream HTTP and WebSocket traffic with connection
pooling, response caching, circuit breaking, and metrics export.`,
		RunE: run,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(requestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		fmt.Printf("Wireline\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

		return nil
	}

	logger, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := metrics.InitializeRegistry()

	enhanced, err := client.New(*cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	session, err := startSession(cfg, registry, logger)
	if err != nil {
		return err
	}

	metricsServer := startMetricsServer(cfg, registry, logger)

	logger.Info("wireline started",
		zap.String("version", Version),
		zap.String("base_url", cfg.Client.BaseURL))

	waitForShutdown(logger)

	return shutdown(enhanced, session, metricsServer, logger)
}

// startSession opens the persistent WebSocket session when one is
// configured. Connect runs the full backoff schedule; with
// auto-reconnect it happens in the background so startup is not held
// hostage by a slow endpoint.
func startSession(cfg *config.Config, registry *metrics.Registry, logger *zap.Logger) (*wsession.Session, error) {
	if cfg.WebSocket.Endpoint == "" {
		return nil, nil
	}

	session, err := wsession.New(cfg.WebSocket, logger, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket session: %w", err)
	}

	if cfg.WebSocket.AutoReconnect {
		go func() {
			if err := session.Connect(context.Background()); err != nil {
				logger.Error("websocket connect exhausted all attempts",
					zap.Error(err))
			}
		}()

		return session, nil
	}

	if err := session.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect websocket session: %w", err)
	}

	return session, nil
}

func startMetricsServer(cfg *config.Config, registry *metrics.Registry, logger *zap.Logger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry.Prometheus(), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		logger.Info("starting metrics server",
			zap.Int("port", cfg.Metrics.Port),
			zap.String("path", cfg.Metrics.Path))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return server
}

func waitForShutdown(logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("received shutdown signal")
}

func shutdown(enhanced *client.Enhanced, session *wsession.Session, metricsServer *http.Server, logger *zap.Logger) error {
	logger.Info("starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", zap.Error(err))
		}
	}

	if session != nil {
		if err := session.Close(); err != nil {
			logger.Error("error closing websocket session", zap.Error(err))
		}
	}

	if err := enhanced.Close(); err != nil {
		logger.Error("error closing client", zap.Error(err))
	}

	logger.Info("wireline shutdown complete")

	return nil
}

// requestCmd performs a one-shot request through the full reliability
// stack and prints the response, useful for smoke-testing a config.
func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request [method] [path]",
		Short: "Execute a single request through the reliability stack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger(cmd)
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			body, err := cmd.Flags().GetString("body")
			if err != nil {
				return fmt.Errorf("failed to get body flag: %w", err)
			}

			registry := metrics.InitializeRegistry()

			enhanced, err := client.New(*cfg, registry, logger)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			defer func() {
				if closeErr := enhanced.Close(); closeErr != nil {
					logger.Warn("error closing client", zap.Error(closeErr))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
			defer cancel()

			var payload []byte
			if body != "" {
				payload = []byte(body)
			}

			resp, err := enhanced.Execute(ctx, args[0], args[1], payload)
			if err != nil {
				return err
			}

			fmt.Printf("Status: %d\n", resp.StatusCode)
			fmt.Printf("Latency: %s\n", resp.Latency)
			fmt.Printf("%s\n", resp.Body)

			return nil
		},
	}

	cmd.Flags().String("body", "", "Request body")

	return cmd
}

func setupLogger(cmd *cobra.Command) (*zap.Logger, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logger, err := logging.NewLogger(logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

func syncLogger(logger *zap.Logger) {
	if syncErr := logger.Sync(); syncErr != nil {
		if syncErr.Error() != "sync /dev/stderr: invalid argument" &&
			syncErr.Error() != "sync /dev/stdout: invalid argument" {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}
