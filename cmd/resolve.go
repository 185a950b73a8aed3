package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fuzztriage/issue-harvester/internal/scraper"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the resolved work set without scraping anything",
	RunE:  runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ids, err := resolveWorkSet(cfg, logger)
	if err != nil {
		if errors.Is(err, scraper.ErrNoTargetIDs) {
			fmt.Println("work set is empty")
			return nil
		}
		return err
	}

	partitions := scraper.Partition(ids, cfg.Scraper.Workers)
	logger.Info("work set resolved",
		zap.Int("issues", len(ids)),
		zap.Int("partitions", len(partitions)))

	for i, part := range partitions {
		fmt.Printf("worker %d: %d issues (%d .. %d)\n", i, len(part), part[0], part[len(part)-1])
	}
	trackers := cfg.Trackers()
	for _, id := range ids {
		fmt.Println(trackers.IssueURL(id))
	}
	return nil
}
