// Package cli wires the watchtower commands: run, poll, sources, status,
// publish, version. Services are assembled lazily so lightweight commands
// never touch the database.
package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	configfile "github.com/watchtower-labs/watchtower/internal/adapters/driven/config/file"
	"github.com/watchtower-labs/watchtower/internal/adapters/driven/publish"
	"github.com/watchtower-labs/watchtower/internal/adapters/driven/storage/sqlite"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driving"
	"github.com/watchtower-labs/watchtower/internal/core/services"
	"github.com/watchtower-labs/watchtower/internal/extractors"
	"github.com/watchtower-labs/watchtower/internal/extractors/html"
	"github.com/watchtower-labs/watchtower/internal/extractors/pdf"
	"github.com/watchtower-labs/watchtower/internal/extractors/plaintext"
	"github.com/watchtower-labs/watchtower/internal/harvesters"
	"github.com/watchtower-labs/watchtower/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagConfig  string
	flagDataDir string
	flagVerbose bool
)

var (
	cfg          *configfile.Config
	store        *sqlite.Store
	orchestrator driving.PollOrchestrator
	publisher    driving.Publisher
	alertSink    driven.AlertSink
)

var rootCmd = &cobra.Command{
	Use:   "watchtower",
	Short: "Regulatory document change detection pipeline",
	Long: `Watchtower polls regulatory sources (feeds, APIs, listing pages),
detects genuine content changes by fingerprinting raw bytes, extracts
normalized text, and hands confirmed versions to a downstream sink.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("Closing store: %v", err)
			}
			store = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config.toml (default ~/.watchtower/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.watchtower/data)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute(buildVersion string) error {
	if buildVersion != "" {
		version = buildVersion
	}
	return rootCmd.Execute()
}

// configPath resolves the config file location.
func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	return configfile.DefaultPath()
}

// initServices loads configuration, opens the store, syncs the configured
// sources into it, and assembles the pipeline.
func initServices(ctx context.Context) error {
	path, err := configPath()
	if err != nil {
		return err
	}

	cfg, err = configfile.Load(path)
	if err != nil {
		return err
	}

	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = cfg.Global.DataDir
	}

	store, err = sqlite.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	if err := syncSources(ctx); err != nil {
		return err
	}

	factory := services.NewAdapterFactory()
	harvesters.RegisterAll(factory)

	registry := extractors.NewRegistry()
	registry.Register(html.New())
	registry.Register(pdf.New())
	registry.Register(plaintext.New())

	orchestrator = services.NewPollOrchestrator(
		store.SourceStore(),
		store.StateStore(),
		store.DocumentStore(),
		store.DedupIndex(),
		store.PollHistoryStore(),
		factory,
		registry,
	)

	sink, err := buildSink()
	if err != nil {
		return err
	}
	publisher = services.NewPublisher(store.DocumentStore(), sink)
	alertSink = services.LogAlertSink{}

	return nil
}

// syncSources upserts configured sources into the store and disables
// stored sources the configuration no longer mentions. Sources are never
// deleted, so document history stays attributable.
func syncSources(ctx context.Context) error {
	configured := make(map[string]bool)
	for _, source := range cfg.Sources() {
		configured[source.ID] = true
		if err := store.SourceStore().Save(ctx, source); err != nil {
			return fmt.Errorf("saving source %s: %w", source.ID, err)
		}
	}

	stored, err := store.SourceStore().List(ctx)
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}
	for _, source := range stored {
		if !configured[source.ID] && source.Enabled {
			logger.Info("Source %s removed from configuration, disabling", source.ID)
			if err := store.SourceStore().Disable(ctx, source.ID); err != nil {
				return fmt.Errorf("disabling source %s: %w", source.ID, err)
			}
		}
	}
	return nil
}

// buildSink constructs the configured publish sink.
func buildSink() (driven.PublishSink, error) {
	switch cfg.Global.PublishSink {
	case "http":
		return publish.NewHTTPSink(cfg.Global.PublishURL, cfg.Global.PublishToken)
	case "jsonl":
		dir := cfg.Global.PublishDir
		if dir == "" {
			dir = filepath.Join(filepath.Dir(store.Path()), "published")
		}
		return publish.NewJSONLSink(dir)
	default:
		return nil, errors.New("unknown publish sink " + cfg.Global.PublishSink)
	}
}

// schedulerConfig maps the loaded configuration onto the scheduler.
func schedulerConfig() services.SchedulerConfig {
	return services.SchedulerConfig{
		MaxConcurrentPolls: int64(cfg.Global.MaxConcurrentPolls),
		BaseBackoff:        cfg.BaseBackoff(),
		MaxBackoff:         cfg.MaxBackoff(),
	}
}
