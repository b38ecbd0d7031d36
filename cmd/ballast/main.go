package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidecraft/ballast/pkg/api"
	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/manifest"
	"github.com/tidecraft/ballast/pkg/reconciler"
	"github.com/tidecraft/ballast/pkg/runtime"
	"github.com/tidecraft/ballast/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ballast",
	Short: "Ballast - declarative deployment reconciliation engine",
	Long: `Ballast converges running instances toward declared workloads:
rolling updates bounded by surge, config resolution with strict
namespace ownership, volume claim binding and probe-driven health,
all from YAML manifests in a single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ballast version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().String("manifest-dir", "./manifests", "Directory of YAML manifests to watch")
	runCmd.Flags().String("data-dir", "./data", "Directory for persistent engine state")
	runCmd.Flags().String("api-addr", "127.0.0.1:7600", "Operational API listen address")
	runCmd.Flags().Duration("interval", reconciler.DefaultInterval, "Scheduled reconciliation interval")
	runCmd.Flags().String("runtime", "fake", "Runtime driver (only \"fake\" is built in)")
	runCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().Bool("log-json", false, "Emit JSON logs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation engine",
	Long: `Run the engine: load manifests, start the reconciliation loop and
serve the operational API until interrupted.`,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	manifestDir, _ := cmd.Flags().GetString("manifest-dir")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	interval, _ := cmd.Flags().GetDuration("interval")
	runtimeName, _ := cmd.Flags().GetString("runtime")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("main")

	var driver runtime.Driver
	switch runtimeName {
	case "fake":
		driver = runtime.NewFake()
	default:
		return fmt.Errorf("unknown runtime driver %q", runtimeName)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	st, err := store.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	broker := events.NewBroker(256)
	broker.Start()
	defer broker.Stop()

	rec := reconciler.New(st, driver, broker, interval)

	loader := manifest.NewLoader(st, rec.Binder(), broker, manifestDir)
	loader.Guard(rec.Guard())
	if err := loader.Sync(); err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}

	watcher := manifest.NewWatcher(manifestDir, manifest.DefaultDebounce, func() {
		if err := loader.Sync(); err != nil {
			logger.Error().Err(err).Msg("manifest sync failed")
		}
		rec.Notify()
	})
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch manifests: %w", err)
	}
	defer watcher.Stop()

	rec.Start()
	defer rec.Stop()
	rec.Notify()

	server := api.NewServer(st, rec, broker, apiAddr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().
		Str("manifest_dir", manifestDir).
		Str("api_addr", apiAddr).
		Dur("interval", interval).
		Msg("engine started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
