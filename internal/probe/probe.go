// Package probe implements a lightweight HTTP availability check that runs
// ahead of a browser navigation.
package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/fuzztriage/issue-harvester/internal/scraper"
)

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober issues a single GET per URL to spot hard throttling before a
// browser navigation is spent on it. The tracker renders client-side, so
// the body is ignored; only the status matters.
type Prober struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	return &Prober{cfg: cfg, base: c, logger: logger}
}

// Probe fetches the URL once and classifies the outcome. Network errors
// count as unreachable but never throttled; the navigation retry budget
// covers transient failures.
func (p *Prober) Probe(ctx context.Context, url string) scraper.ProbeResult {
	result := scraper.ProbeResult{}

	collector := p.base.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		result.Reachable = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode == http.StatusTooManyRequests {
			result.Throttled = true
			return
		}
		p.logger.Debug("probe failed", zap.String("url", url), zap.Error(err))
	})

	if ctx.Err() != nil {
		return result
	}
	if err := collector.Visit(url); err != nil {
		p.logger.Debug("probe visit failed", zap.String("url", url), zap.Error(err))
	}
	collector.Wait()
	return result
}
