package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stablewatch/stablewatch/internal/app"
	"github.com/stablewatch/stablewatch/internal/config"
)

var (
	configPath string
	logLevel   string

	runCoins    []string
	runChains   []string
	runDuration string
	runOut      string
	runRedis    string
	runSim      bool

	monitorChains   []string
	monitorInterval time.Duration
)

// rootCmd is the base command for the StableWatch CLI
var rootCmd = &cobra.Command{
	Use:   "stablewatch",
	Short: "StableWatch multi-chain stablecoin risk engine",
	Long: `StableWatch continuously aggregates stablecoin risk signals across
chains into confidence-scored snapshots: finality-aware windowing, reorg
corrections, and a Temporal Confidence Score per emission.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("StableWatch risk aggregation engine")
		fmt.Println("Use 'stablewatch run' to start the pipeline")
	},
}

// runCmd starts the full pipeline.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the risk aggregation pipeline",
	Long: `Start the full pipeline: source pollers, quality screening, finality
tracking, block monitors, windowed aggregation and snapshot emission.

Example usage:
  stablewatch run                              # All configured coins and chains
  stablewatch run --coins USDC --chains ethereum
  stablewatch run --duration 30m --out snapshots.jsonl
  stablewatch run --sim                        # Simulated chains and sources`,
	RunE: runPipeline,
}

// monitorCmd runs block monitors only and prints their stats.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run block monitors only",
	Long: `Watch chain heads and report reorg activity without running the
aggregation pipeline. Useful for verifying RPC endpoints and reorg
detection behavior.`,
	RunE: runMonitors,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVar(&runCoins, "coins", nil, "Coins to monitor (default: all configured)")
	runCmd.Flags().StringSliceVar(&runChains, "chains", nil, "Chains to monitor (default: all configured)")
	runCmd.Flags().StringVar(&runDuration, "duration", "", "Stop after this duration, e.g. 30m or plain seconds (empty = run until signalled)")
	runCmd.Flags().StringVar(&runOut, "out", "", "Snapshot JSONL path (overrides config)")
	runCmd.Flags().StringVar(&runRedis, "redis", "", "Redis address for the snapshot stream (overrides config)")
	runCmd.Flags().BoolVar(&runSim, "sim", false, "Use simulated chains and sources")

	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringSliceVar(&monitorChains, "chains", nil, "Chains to watch (default: all configured)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "report-interval", 10*time.Second, "Stats report interval")
	monitorCmd.Flags().BoolVar(&runSim, "sim", false, "Use simulated chains")
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if runRedis != "" {
		cfg.Emit.RedisAddr = runRedis
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseRunDuration accepts Go duration strings and plain integer seconds.
func parseRunDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	duration, err := parseRunDuration(runDuration)
	if err != nil {
		return err
	}

	engine, err := app.New(cfg, app.Options{
		Coins:    runCoins,
		Chains:   runChains,
		Duration: duration,
		Simulate: runSim,
		Out:      runOut,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	log.Info().Msg("starting pipeline")
	return engine.Run(ctx)
}

func runMonitors(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := app.New(cfg, app.Options{Chains: monitorChains, Simulate: runSim})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	go func() {
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, stats := range engine.MonitorStats() {
					data, _ := json.Marshal(stats)
					fmt.Println(string(data))
				}
			}
		}
	}()

	return engine.RunMonitorsOnly(ctx)
}
