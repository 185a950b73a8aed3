package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cloudpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fuzztriage/issue-harvester/internal/api"
	"github.com/fuzztriage/issue-harvester/internal/config"
	"github.com/fuzztriage/issue-harvester/internal/probe"
	"github.com/fuzztriage/issue-harvester/internal/progress"
	pubsubpub "github.com/fuzztriage/issue-harvester/internal/publisher/pubsub"
	"github.com/fuzztriage/issue-harvester/internal/scraper"
	"github.com/fuzztriage/issue-harvester/internal/session"
	"github.com/fuzztriage/issue-harvester/internal/storage/gcs"
	"github.com/fuzztriage/issue-harvester/internal/storage/local"
	"github.com/fuzztriage/issue-harvester/internal/storage/postgres"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Resolve the work set and scrape it with parallel browser sessions",
	RunE:  runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger.Info("starting scrape run", zap.String("run_id", runID))

	ids, err := resolveWorkSet(cfg, logger)
	if err != nil {
		if errors.Is(err, scraper.ErrNoTargetIDs) {
			logger.Info("work set is empty, nothing to scrape")
			return nil
		}
		return err
	}
	if len(ids) == 0 {
		logger.Info("work set is empty, nothing to scrape")
		return nil
	}

	workers := cfg.Scraper.Workers
	if len(ids) < workers {
		workers = len(ids)
	}
	partitions := scraper.Partition(ids, workers)
	logger.Info("resolved work set",
		zap.Int("issues", len(ids)),
		zap.Int("workers", len(partitions)))

	runDir := filepath.Join(cfg.Output.ResultsDir, time.Now().Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	snapshots, err := buildSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}

	var prober scraper.Prober
	if cfg.Probe.Enabled {
		prober = probe.New(probe.Config{
			UserAgent: cfg.Scraper.UserAgent,
			Timeout:   time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
		}, logger)
	}

	var store scraper.RecordStore
	if cfg.DB.Enabled {
		issueStore, err := postgres.NewIssueStore(ctx, postgres.IssueStoreConfig{
			DSN:   cfg.DB.DSN,
			Table: cfg.DB.Table,
		})
		if err != nil {
			return fmt.Errorf("connect issue store: %w", err)
		}
		defer issueStore.Close()
		store = issueStore
	}

	var publisher scraper.Publisher
	if cfg.PubSub.Enabled {
		client, err := cloudpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer client.Close() //nolint:errcheck
		publisher = pubsubpub.New(client)
	}

	tracker := progress.NewTracker(runID)
	if cfg.Server.Enabled {
		server := api.NewServer(cfg.Server.Port, tracker, logger)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", zap.Error(err))
			}
		}()
	}

	delayMin, delayMax := cfg.DelayBounds()

	var wg sync.WaitGroup
	for i, part := range partitions {
		sess, err := session.New(session.Config{
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Scraper.NavTimeoutSec) * time.Second,
		}, logger)
		if err != nil {
			logger.Error("failed to start browser session, skipping partition",
				zap.Int("worker", i), zap.Error(err))
			continue
		}

		nav := scraper.NewNavigator(sess, prober, cfg.NavigatorConfig(), logger)
		extractor := scraper.NewExtractor(sess, nav, snapshots, scraper.ExtractorConfig{
			TableWait:      time.Duration(cfg.Scraper.TableTimeoutSec) * time.Second,
			SnapshotPrefix: fmt.Sprintf("window_%d", i),
		}, logger)
		writer := scraper.NewBatchWriter(filepath.Join(runDir, fmt.Sprintf("window_%d", i)), logger)
		worker := scraper.NewWorker(sess, nav, extractor, writer, publisher, store, tracker,
			cfg.Trackers(), scraper.WorkerConfig{
				Index:        i,
				SaveInterval: cfg.Scraper.SaveInterval,
				DelayMin:     delayMin,
				DelayMax:     delayMax,
				RunID:        runID,
				Topic:        cfg.PubSub.TopicName,
			}, logger)

		wg.Add(1)
		go func(part []int64, sess *session.Session) {
			defer wg.Done()
			defer sess.Close()
			worker.Run(ctx, part)
		}(part, sess)
	}
	wg.Wait()

	status := tracker.Snapshot()
	logger.Info("scrape run finished",
		zap.String("run_id", runID),
		zap.Int("processed", status.Processed),
		zap.Int("failed", status.Failed),
		zap.String("results_dir", runDir))
	return nil
}

func resolveWorkSet(cfg config.Config, logger *zap.Logger) ([]int64, error) {
	filter, err := scraper.ParseFilter(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("parse rescrape filter: %w", err)
	}
	resolver := scraper.NewResolver(cfg.Trackers(), logger)
	return resolver.Resolve(cfg.Inputs.TargetIDsFile, cfg.Output.ResultsDir, cfg.Inputs.MergedCSV, filter)
}

func buildSnapshotStore(ctx context.Context, cfg config.Config) (scraper.BlobStore, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	switch cfg.Archive.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.GCSPrefix,
		})
	default:
		store, err := local.New(cfg.Output.HTMLDir)
		if err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
		return store, nil
	}
}
