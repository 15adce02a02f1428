package commands

import (
	"context"
	"github.com/datagovtools/porter/internal/archive"
	"github.com/datagovtools/porter/internal/catalog"
	"github.com/datagovtools/porter/internal/config"
	"github.com/datagovtools/porter/internal/migrate"
	"github.com/datagovtools/porter/internal/storage"
	"github.com/datagovtools/porter/pkg/logx"
	"github.com/datagovtools/porter/pkg/sniff"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

var (
	flagForce bool

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Migrate catalog resources to the object store",
		Long:  "Walk every dataset in the catalog, upload each resource's content to the object store, update the catalog records, and package each dataset as a zip archive",
		Run: func(cmd *cobra.Command, args []string) {
			if err := cmd.ParseFlags(args); err != nil {
				logx.As().Error().Err(err).Msg("Failed to parse flags")
				os.Exit(1)
			}

			if cmd.Context() == nil {
				logx.As().Error().Msg("Context is nil")
				os.Exit(1)
			}

			runMigrate(cmd.Context())
		},
	}
)

func init() {
	migrateCmd.Flags().BoolVar(&flagForce, "force", false,
		"migrate resources even when they already live in the object store")
}

func runMigrate(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	logx.StartTimer()

	if err := startProfiling(ctx); err != nil {
		logx.As().Fatal().Err(err).Msg("Failed to initialize profiling")
	}

	cfg := config.Get()

	store, err := storage.NewS3(*cfg.Storage.S3, *cfg.Storage.Retry, logx.Component("storage"))
	if err != nil {
		logx.As().Fatal().Err(err).Msg("Failed to create object store")
	}

	if err = store.EnsureBucket(ctx); err != nil {
		logx.As().Fatal().Err(err).Msg("Failed to ensure bucket")
	}

	client, err := catalog.NewClient(*cfg.Catalog, cfg.Storage.S3.Prefix, store, logx.Component("catalog"))
	if err != nil {
		logx.As().Fatal().Err(err).Msg("Failed to create catalog client")
	}

	packager := archive.NewPackager(cfg.Migration.ArchivePrefix, store, logx.Component("archive"))

	engine, err := migrate.NewEngine(client, packager, cfg.Migration, logx.Component("migrate"))
	if err != nil {
		logx.As().Fatal().Err(err).Msg("Failed to create migration engine")
	}

	// Stop on OS signals; in-flight datasets finish, the rest are skipped
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logx.As().Warn().Msg("Received exit signal, stopping migration...")
			cancelFunc()
		case <-ctx.Done():
		}
	}()

	outcome, err := engine.Run(ctx, flagForce)
	if err != nil {
		logx.As().Fatal().Err(err).Msg("Migration run failed")
	}

	logx.As().Info().
		Str("run_id", outcome.RunID).
		Str("total_time", logx.ExecutionTime()).
		Msg("Migration run finished")
}

func startProfiling(ctx context.Context) error {
	profiling := config.Get().Profiling
	if profiling == nil || !profiling.Enabled {
		return nil
	}

	return sniff.Start(ctx, *profiling)
}
