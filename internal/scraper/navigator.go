package scraper

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default navigation budgets observed to keep the tracker UI responsive.
const (
	defaultIssueAttempts    = 5
	defaultSubPageAttempts  = 3
	defaultIssueTimeout     = 20 * time.Second
	defaultSubPageTimeout   = 15 * time.Second
	defaultThrottleCooldown = 10 * time.Second
	defaultPollInterval     = 500 * time.Millisecond
)

// Selector for either tracker's issue-detail content marker.
const issueContentSelector = "b-issue-details, edit-issue-metadata"

const throttleBannerSelector = ".snackbar-content"
const throttleBannerText = "Request throttled"

// NavigatorConfig bounds the retry state machine.
type NavigatorConfig struct {
	IssueAttempts    int
	SubPageAttempts  int
	IssueTimeout     time.Duration
	SubPageTimeout   time.Duration
	ThrottleCooldown time.Duration
	PollInterval     time.Duration
	QPS              float64
}

func (c NavigatorConfig) withDefaults() NavigatorConfig {
	if c.IssueAttempts <= 0 {
		c.IssueAttempts = defaultIssueAttempts
	}
	if c.SubPageAttempts <= 0 {
		c.SubPageAttempts = defaultSubPageAttempts
	}
	if c.IssueTimeout <= 0 {
		c.IssueTimeout = defaultIssueTimeout
	}
	if c.SubPageTimeout <= 0 {
		c.SubPageTimeout = defaultSubPageTimeout
	}
	if c.ThrottleCooldown <= 0 {
		c.ThrottleCooldown = defaultThrottleCooldown
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// LoadOutcome reports whether a navigation settled and where it ended up.
type LoadOutcome struct {
	OK       bool
	FinalURL string
}

// Navigator drives one automation session through bounded-retry page loads
// with throttle detection and politeness pacing.
type Navigator struct {
	session Session
	prober  Prober
	limiter *rate.Limiter
	sleeper Sleeper
	cfg     NavigatorConfig
	logger  *zap.Logger
}

// NewNavigator builds a Navigator for the session. prober may be nil.
func NewNavigator(session Session, prober Prober, cfg NavigatorConfig, logger *zap.Logger) *Navigator {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return &Navigator{
		session: session,
		prober:  prober,
		limiter: limiter,
		sleeper: &timerSleeper{},
		cfg:     cfg,
		logger:  logger,
	}
}

// LoadIssue navigates to an issue page and waits for its content marker to
// materialize. A throttle banner triggers a cooldown retry that does not
// consume the attempt budget.
func (n *Navigator) LoadIssue(ctx context.Context, url string) LoadOutcome {
	attempt := 0
	for attempt < n.cfg.IssueAttempts {
		if ctx.Err() != nil {
			return LoadOutcome{}
		}
		if n.waitBudget(ctx) != nil {
			return LoadOutcome{}
		}
		if n.probeThrottled(ctx, url) {
			n.logger.Warn("tracker throttling before navigation", zap.String("url", url))
			TotalThrottleHits.Inc()
			n.sleeper.Sleep(ctx, n.cfg.ThrottleCooldown)
			continue
		}
		if err := n.session.Navigate(ctx, url); err != nil {
			attempt++
			n.logger.Warn("navigation failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if n.waitFor(ctx, n.cfg.IssueTimeout, n.issueContentPresent) {
			final, err := n.session.Location(ctx)
			if err != nil || final == "" {
				final = url
			}
			return LoadOutcome{OK: true, FinalURL: final}
		}
		if n.throttleBannerVisible(ctx) {
			n.logger.Warn("request throttled", zap.String("url", url))
			TotalThrottleHits.Inc()
			n.sleeper.Sleep(ctx, n.cfg.ThrottleCooldown)
			continue
		}
		attempt++
		n.logger.Warn("issue page load timed out",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", n.cfg.IssueAttempts),
		)
	}
	TotalLoadFailures.Inc()
	return LoadOutcome{}
}

// LoadSubPage navigates to a secondary page and waits for the URL to move
// away from the originating page and any blank placeholder.
func (n *Navigator) LoadSubPage(ctx context.Context, url, fromURL string) LoadOutcome {
	for attempt := 0; attempt < n.cfg.SubPageAttempts; attempt++ {
		if ctx.Err() != nil {
			return LoadOutcome{}
		}
		if n.waitBudget(ctx) != nil {
			return LoadOutcome{}
		}
		if err := n.session.Navigate(ctx, url); err != nil {
			n.logger.Warn("sub-page navigation failed",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		settled := n.waitFor(ctx, n.cfg.SubPageTimeout, func(ctx context.Context) bool {
			loc, err := n.session.Location(ctx)
			if err != nil {
				return false
			}
			return loc != fromURL && !strings.Contains(loc, "about:blank")
		})
		if settled {
			final, err := n.session.Location(ctx)
			if err != nil || final == "" {
				final = url
			}
			return LoadOutcome{OK: true, FinalURL: final}
		}
		n.logger.Warn("sub-page stuck or failed to navigate",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", n.cfg.SubPageAttempts),
		)
	}
	TotalLoadFailures.Inc()
	return LoadOutcome{}
}

// WaitFor polls cond until it reports true or the timeout elapses.
func (n *Navigator) WaitFor(ctx context.Context, timeout time.Duration, cond func(context.Context) bool) bool {
	return n.waitFor(ctx, timeout, cond)
}

// Sleep pauses for d, returning early when ctx finishes.
func (n *Navigator) Sleep(ctx context.Context, d time.Duration) {
	n.sleeper.Sleep(ctx, d)
}

func (n *Navigator) waitBudget(ctx context.Context) error {
	if n.limiter == nil {
		return nil
	}
	return n.limiter.Wait(ctx)
}

func (n *Navigator) probeThrottled(ctx context.Context, url string) bool {
	if n.prober == nil {
		return false
	}
	return n.prober.Probe(ctx, url).Throttled
}

func (n *Navigator) issueContentPresent(ctx context.Context) bool {
	nodes, err := n.session.Query(ctx, issueContentSelector)
	return err == nil && len(nodes) > 0
}

func (n *Navigator) throttleBannerVisible(ctx context.Context) bool {
	banners, err := n.session.Query(ctx, throttleBannerSelector)
	if err != nil {
		return false
	}
	for _, banner := range banners {
		text, err := banner.Text(ctx)
		if err == nil && strings.Contains(text, throttleBannerText) {
			return true
		}
	}
	return false
}

func (n *Navigator) waitFor(ctx context.Context, timeout time.Duration, cond func(context.Context) bool) bool {
	if cond(ctx) {
		return true
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if cond(ctx) {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}

// timerSleeper pauses on a timer while honoring context cancellation.
type timerSleeper struct{}

func (s *timerSleeper) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
