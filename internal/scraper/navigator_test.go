package scraper

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loadedIssuePage(title string) *fakePage {
	return &fakePage{
		title: title,
		selectors: map[string][]*fakeNode{
			issueContentSelector: {textNode("details")},
		},
	}
}

func throttledPage() *fakePage {
	return &fakePage{
		selectors: map[string][]*fakeNode{
			throttleBannerSelector: {textNode("Request throttled. Please try again later.")},
		},
	}
}

type fakeProber struct {
	results []ProbeResult
	calls   int
}

func (p *fakeProber) Probe(context.Context, string) ProbeResult {
	p.calls++
	if len(p.results) == 0 {
		return ProbeResult{Reachable: true}
	}
	result := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return result
}

func TestLoadIssueSucceedsOnFirstAttempt(t *testing.T) {
	sess := newFakeSession()
	const url = "https://issues.example.com/issues/42001"
	sess.serve(url, loadedIssuePage("Heap-buffer-overflow in foo"))

	nav := NewNavigator(sess, nil, fastNavConfig(), zap.NewNop())
	outcome := nav.LoadIssue(context.Background(), url)

	require.True(t, outcome.OK)
	require.Equal(t, url, outcome.FinalURL)
	require.Len(t, sess.navigations, 1)
}

func TestLoadIssueReportsRedirectedURL(t *testing.T) {
	sess := newFakeSession()
	const url = "https://bugs.example.com/p/x/issues/detail?id=1234"
	const final = "https://issues.example.com/issues/42001234"
	sess.serve(url, loadedIssuePage("migrated"))
	sess.redirects[url] = final

	nav := NewNavigator(sess, nil, fastNavConfig(), zap.NewNop())
	outcome := nav.LoadIssue(context.Background(), url)

	require.True(t, outcome.OK)
	require.Equal(t, final, outcome.FinalURL)
}

func TestLoadIssueThrottleRetriesDoNotConsumeAttempts(t *testing.T) {
	sess := newFakeSession()
	const url = "https://issues.example.com/issues/42002"
	sess.enqueue(url, throttledPage(), throttledPage(), loadedIssuePage("loaded"))

	cfg := fastNavConfig()
	cfg.IssueAttempts = 1
	nav := NewNavigator(sess, nil, cfg, zap.NewNop())
	outcome := nav.LoadIssue(context.Background(), url)

	require.True(t, outcome.OK, "throttle cooldowns must not exhaust the attempt budget")
	require.Len(t, sess.navigations, 3)
}

func TestLoadIssueProbeThrottleWaitsBeforeNavigating(t *testing.T) {
	sess := newFakeSession()
	const url = "https://issues.example.com/issues/42003"
	sess.serve(url, loadedIssuePage("loaded"))
	prober := &fakeProber{results: []ProbeResult{
		{Reachable: true, Throttled: true},
		{Reachable: true},
	}}

	nav := NewNavigator(sess, prober, fastNavConfig(), zap.NewNop())
	outcome := nav.LoadIssue(context.Background(), url)

	require.True(t, outcome.OK)
	require.Equal(t, 2, prober.calls)
	require.Len(t, sess.navigations, 1, "no navigation while the probe reports throttling")
}

func TestLoadIssueGivesUpAfterAttemptBudget(t *testing.T) {
	sess := newFakeSession()
	const url = "https://issues.example.com/issues/42004"
	sess.serve(url, &fakePage{})

	cfg := fastNavConfig()
	cfg.IssueAttempts = 2
	nav := NewNavigator(sess, nil, cfg, zap.NewNop())
	outcome := nav.LoadIssue(context.Background(), url)

	require.False(t, outcome.OK)
	require.Len(t, sess.navigations, 2)
}

func TestLoadIssueNavigationErrorsConsumeAttempts(t *testing.T) {
	sess := newFakeSession()
	const url = "https://issues.example.com/issues/42005"
	sess.navErrs[url] = fmt.Errorf("net::ERR_CONNECTION_RESET")

	cfg := fastNavConfig()
	cfg.IssueAttempts = 3
	nav := NewNavigator(sess, nil, cfg, zap.NewNop())
	outcome := nav.LoadIssue(context.Background(), url)

	require.False(t, outcome.OK)
	require.Len(t, sess.navigations, 3)
}

func TestLoadIssueStopsWhenContextCancelled(t *testing.T) {
	sess := newFakeSession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	nav := NewNavigator(sess, nil, fastNavConfig(), zap.NewNop())
	outcome := nav.LoadIssue(ctx, "https://issues.example.com/issues/42006")

	require.False(t, outcome.OK)
	require.Empty(t, sess.navigations)
}

func TestLoadSubPageSucceedsWhenURLMovesAway(t *testing.T) {
	sess := newFakeSession()
	const from = "https://issues.example.com/issues/42007"
	const url = "https://example.com/revisions?range=a:b"
	sess.serve(url, &fakePage{title: "Revisions"})

	nav := NewNavigator(sess, nil, fastNavConfig(), zap.NewNop())
	outcome := nav.LoadSubPage(context.Background(), url, from)

	require.True(t, outcome.OK)
	require.Equal(t, url, outcome.FinalURL)
}

func TestLoadSubPageFailsWhenStuckOnOrigin(t *testing.T) {
	sess := newFakeSession()
	const from = "https://issues.example.com/issues/42008"
	const url = "https://example.com/revisions?range=a:b"
	// Simulate a navigation that never leaves the issue page.
	sess.redirects[url] = from

	nav := NewNavigator(sess, nil, fastNavConfig(), zap.NewNop())
	outcome := nav.LoadSubPage(context.Background(), url, from)

	require.False(t, outcome.OK)
	require.Len(t, sess.navigations, 3)
}
