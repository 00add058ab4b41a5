package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"greenthread/internal/simulator"
)

var (
	webhookURL string
	secret     string
	seed       int64
	timeout    time.Duration
	interval   time.Duration
	verbose    bool
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Post simulated wastewater sensor readings to the ingestion webhook",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		if secret == "" {
			return fmt.Errorf("webhook secret is required (--secret or WEBHOOK_SECRET)")
		}
		return nil
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Send a single batch and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduler, err := newScheduler(time.Minute)
		if err != nil {
			return err
		}
		result, err := scheduler.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("batch sent", "count", result.Count, "message", result.Message)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send a batch every interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduler, err := newScheduler(interval)
		if err != nil {
			return err
		}
		logger.Info("simulator running", "url", webhookURL, "interval", interval)
		scheduler.Start(cmd.Context())
		logger.Info("simulator stopped")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&webhookURL, "url", envOrDefault("WEBHOOK_URL", "http://localhost:8080/data/webhooks"), "ingestion webhook URL")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("WEBHOOK_SECRET"), "webhook shared secret")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout per batch")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	runCmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between batches")

	rootCmd.AddCommand(onceCmd, runCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func newScheduler(every time.Duration) (*simulator.Scheduler, error) {
	sender, err := simulator.NewSender(webhookURL, secret, timeout)
	if err != nil {
		return nil, err
	}
	generator := simulator.NewGenerator(simulator.DefaultProfiles(), seed)
	return simulator.NewScheduler(generator, sender, every, logger)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
