package commands

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/display"
	"github.com/stratahq/strata/enhance"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/fragment"
	"github.com/stratahq/strata/logger"
	"github.com/stratahq/strata/observation"
	"github.com/stratahq/strata/schema"
)

// QueueCmd represents the enhancement queue command
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the enhancement queue processor",
	Long: `Run, inspect, and clean the auto-enhancement work queue.

Examples:
  strata queue run                # Run the processor until interrupted
  strata queue run --drain        # Process pending items once, then exit
  strata queue stats              # Show item counts per status
  strata queue cleanup            # Delete old terminal items`,
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enhancement queue processor",
	RunE:  runQueueRun,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show enhancement queue statistics",
	RunE:  runQueueStats,
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal queue items past retention",
	RunE:  runQueueCleanup,
}

var queueDrainFlag bool

func init() {
	QueueCmd.AddCommand(queueRunCmd)
	QueueCmd.AddCommand(queueStatsCmd)
	QueueCmd.AddCommand(queueCleanupCmd)

	queueRunCmd.Flags().BoolVar(&queueDrainFlag, "drain", false, "Process pending items once and exit")
}

func runQueueRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	processor := buildProcessor(database, cfg)

	if queueDrainFlag {
		processed, err := processor.DrainQueue(cmd.Context(), 0)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d queue item(s)\n", processed)
		return nil
	}

	// Hot-reload thresholds while the processor runs.
	watcher, err := config.NewWatcher(config.DefaultConfigPath())
	if err == nil {
		watcher.OnReload(func(newCfg *config.Config) error {
			processor.SetConfig(newCfg.Enhance)
			return nil
		})
		watcher.Start()
		defer watcher.Stop()
	} else {
		logger.Warnw("Config watcher unavailable, thresholds fixed for this run", "error", err)
	}

	processor.Start(cmd.Context())
	defer processor.Stop()

	fmt.Println("Enhancement processor running, press Ctrl+C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-cmd.Context().Done():
	}
	fmt.Println("\nShutting down")
	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enhance.NewQueue(database, logger.Logger)
	stats, err := queue.Stats(cmd.Context())
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(stats)
	}
	return display.RenderQueueStats(stats)
}

func runQueueCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enhance.NewQueue(database, logger.Logger)
	retention := time.Duration(cfg.Enhance.RetentionDays) * 24 * time.Hour
	deleted, err := queue.CleanupOld(cmd.Context(), retention)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d queue item(s) older than %d day(s)\n", deleted, cfg.Enhance.RetentionDays)
	return nil
}

// buildProcessor wires the enhancement pipeline on one database handle.
func buildProcessor(database *sql.DB, cfg *config.Config) *enhance.Processor {
	schemas := schema.NewRegistry(schema.NewStore(database, logger.Logger), logger.Logger)
	fragments := fragment.NewStore(database, logger.Logger)
	observations := observation.NewStore(database, logger.Logger)

	migrator := enhance.NewMigrator(fragments, observations, schemas, cfg.Migration, logger.Logger)
	schemas.SetMigrator(migrator)

	checker := enhance.NewChecker(fragments, schemas, cfg.Enhance, logger.Logger)
	recs := enhance.NewRecommendationStore(database, logger.Logger)
	service := enhance.NewService(checker, recs, schemas, logger.Logger)
	queue := enhance.NewQueue(database, logger.Logger)

	return enhance.NewProcessor(queue, service, cfg.Enhance, logger.Logger)
}
