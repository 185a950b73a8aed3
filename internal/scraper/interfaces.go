package scraper

import (
	"context"
	"time"
)

// Node is a handle to one rendered element. Queries are scoped to the node's
// subtree; QueryShadow crosses into its shadow root, which ordinary selector
// queries cannot reach.
type Node interface {
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, error)
	Query(ctx context.Context, selector string) ([]Node, error)
	QueryShadow(ctx context.Context, selector string) ([]Node, error)
}

// Session is the narrow page-automation capability the pipeline drives. The
// production implementation wraps a headless browser; tests substitute a fake
// page model.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Query(ctx context.Context, selector string) ([]Node, error)
	HTML(ctx context.Context) (string, error)
	Restart(ctx context.Context) error
	Close()
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes batch-completion events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Prober checks tracker availability ahead of a browser navigation. The
// answer is advisory: a reachable probe does not guarantee the page renders.
type Prober interface {
	Probe(ctx context.Context, url string) ProbeResult
}

// ProbeResult summarizes a pre-navigation availability check.
type ProbeResult struct {
	Reachable bool
	Throttled bool
}

// RecordStore mirrors completed records into external storage.
type RecordStore interface {
	StoreRecords(ctx context.Context, records []*Record) error
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// Sleeper pauses for the given duration unless the context finishes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}
