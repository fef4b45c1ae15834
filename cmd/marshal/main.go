package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berfenger/marshal/internal/agent"
	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/server"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func gracefulShutdown(ctx context.Context, apiServer *http.Server, done chan bool) {
	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	var cfgFile string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "marshal",
		Short:         "Field-edge energy telemetry agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "agent config file (yaml), overrides CONFIG_FILE")

	loadConfig := func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = initConfig(cfgFile)
		if err != nil {
			slog.Error("config errors", "error", err)
			return err
		}
		return nil
	}

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run one poll cycle and exit",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), cfg)
		},
	}

	daemonCmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run poll cycles on a schedule and serve status over HTTP",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versioninfo.Short())
		},
	}

	rootCmd.AddCommand(runCmd, daemonCmd, versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "marshal:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	return zap.Must(zapCfg.Build())
}

func runOnce(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	defer logger.Sync()

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent init failed", zap.Error(err))
		return err
	}
	defer a.Close()

	report, err := a.RunOnce(ctx)
	if report != nil {
		out, _ := json.Marshal(report)
		logger.Info("cycle report", zap.ByteString("report", out))
	}
	return err
}

func runDaemon(cfg *config.Config) error {
	logger := newLogger(cfg)
	defer logger.Sync()

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent init failed", zap.Error(err))
		return err
	}
	defer a.Close()

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// fail fast on a bad schedule, before the server starts
	if _, err := agent.NewTrigger(cfg.Daemon.Schedule, time.UTC); err != nil {
		return err
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- a.Serve(ctx, cfg.Daemon.Schedule)
	}()

	srv := server.NewServer(*cfg, a, a.Metrics().Handler())
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(ctx, srv, done)

	logger.Info("daemon started", zap.String("addr", srv.Addr), zap.String("schedule", cfg.Daemon.Schedule),
		zap.String("version", versioninfo.Short()))
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		stop()
		<-serveDone
		return fmt.Errorf("http server error: %w", err)
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	return <-serveDone
}

func initConfig(cfgFile string) (*config.Config, error) {

	// alias PORT => MARSHAL_DAEMON_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("MARSHAL_DAEMON_PORT", port)
	}

	v := config.NewViper()

	if cfgFile == "" {
		cfgFile = os.Getenv("CONFIG_FILE")
	}
	// if defined, try to load config from yaml file
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		slog.Info("Using config", "file", cfgFile)
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Join(config.ErrInvalidConfig, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	safePrintConfig(*cfg)
	return cfg, nil
}

func safePrintConfig(cfg config.Config) {
	slog.Info("Using", "config", cfg)
}
