package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalIssuesScraped counts issue records completed without a load failure.
	TotalIssuesScraped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_issues_scraped_total",
		Help: "The total number of issue pages successfully extracted.",
	})
	// TotalErrorRecords counts terminal per-issue failures recorded as error rows.
	TotalErrorRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_error_records_total",
		Help: "The total number of issues recorded with error=true.",
	})
	// TotalLoadFailures counts navigations that exhausted their retry budget.
	TotalLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_load_failures_total",
		Help: "The total number of page loads that exhausted all retries.",
	})
	// TotalThrottleHits counts throttle banners and probe-level rate limits.
	TotalThrottleHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_throttle_hits_total",
		Help: "The total number of times the tracker throttled a request.",
	})
	// TotalSubPagesScraped counts revision sub-pages parsed to completion.
	TotalSubPagesScraped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_subpages_scraped_total",
		Help: "The total number of revision sub-pages extracted.",
	})
	// TotalBatchesWritten counts batch files flushed to storage.
	TotalBatchesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_batches_written_total",
		Help: "The total number of result batches persisted.",
	})
	// TotalSessionRestarts counts automation sessions torn down after an
	// extraction failure.
	TotalSessionRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_session_restarts_total",
		Help: "The total number of browser session restarts.",
	})
)
