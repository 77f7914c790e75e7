package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	configfile "github.com/watchtower-labs/watchtower/internal/adapters/driven/config/file"
	"github.com/watchtower-labs/watchtower/internal/core/services"
	"github.com/watchtower-labs/watchtower/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling scheduler until interrupted",
	Long: `Starts the long-running mode: every enabled source is polled on its
own cadence, confirmed changes are extracted and published, and the
configuration file is watched for changes.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := initServices(ctx); err != nil {
		return err
	}

	// Restart recovery: versions stranded in extracted state are
	// re-offered before any polling starts.
	if published, err := publisher.PublishPending(ctx); err != nil {
		logger.Warn("Startup publish: %v", err)
	} else if published > 0 {
		logger.Info("Published %d version(s) pending from previous run", published)
	}

	scheduler := services.NewFetchScheduler(
		schedulerConfig(),
		orchestrator,
		publisher,
		store.SourceStore(),
		store.StateStore(),
		alertSink,
	)

	// Watch the config file and apply changes without restart.
	go watchConfig(ctx, scheduler)

	cmd.Printf("Watchtower running, config %s, data %s\n", cfg.Path(), store.Path())

	err := scheduler.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cmd.Println("Watchtower stopped.")
	return nil
}

// watchConfig reloads sources and restarts polling loops on config change.
func watchConfig(ctx context.Context, scheduler *services.FetchScheduler) {
	err := configfile.Watch(ctx, cfg.Path(), func() {
		reloaded, err := configfile.Load(cfg.Path())
		if err != nil {
			logger.Error("Reloading configuration: %v", err)
			return
		}
		cfg = reloaded

		if err := syncSources(ctx); err != nil {
			logger.Error("Syncing reloaded sources: %v", err)
			return
		}
		if err := scheduler.Reload(ctx); err != nil {
			logger.Error("Restarting polling loops: %v", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Config watcher stopped: %v", err)
	}
}
