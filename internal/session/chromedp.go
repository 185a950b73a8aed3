// Package session provides the headless-Chrome implementation of the
// scraper's page-automation capability, built on chromedp.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fuzztriage/issue-harvester/internal/scraper"
)

// Config controls the browser session.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// Session drives one headless-Chrome browser. It satisfies scraper.Session;
// Restart replaces the browser context in place so callers holding the
// Session keep working across a crash recovery.
type Session struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New launches a browser and returns the Session wrapping it.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	s := &Session{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
	if err := s.startBrowser(); err != nil {
		allocCancel()
		return nil, err
	}
	if logger != nil {
		logger.Debug("browser session started")
	}
	return s, nil
}

func (s *Session) startBrowser() error {
	browserCtx, browserCancel := chromedp.NewContext(s.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		return fmt.Errorf("chromedp warmup: %w", err)
	}
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	return nil
}

// Restart tears down the current browser and launches a fresh one.
func (s *Session) Restart(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCancel != nil {
		s.browserCancel()
	}
	return s.startBrowser()
}

// Close shuts down the browser and its allocator.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCancel != nil {
		s.browserCancel()
	}
	s.allocCancel()
}

// Navigate loads the URL, waiting up to the configured navigation timeout
// for the load event. The dynamic regions of the page are waited on by the
// caller, not here.
func (s *Session) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{
		s.setupAction(),
		chromedp.Navigate(url),
	}
	if err := s.run(ctx, s.cfg.NavigationTimeout, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Location returns the page's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, 0, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// HTML returns the rendered DOM snapshot.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot html: %w", err)
	}
	return html, nil
}

// Query returns handles to every element matching selector.
func (s *Session) Query(ctx context.Context, selector string) ([]scraper.Node, error) {
	return s.nodesFromList(ctx, fmt.Sprintf("document.querySelectorAll(%q)", selector))
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// nodesFromList materializes element handles for a JS NodeList expression.
// Handles are index-based, so they are only valid until the next navigation.
func (s *Session) nodesFromList(ctx context.Context, listExpr string) ([]scraper.Node, error) {
	count, err := s.evalInt(ctx, fmt.Sprintf("(() => { const l = %s; return l ? l.length : 0; })()", listExpr))
	if err != nil {
		return nil, err
	}
	nodes := make([]scraper.Node, 0, count)
	for i := 0; i < count; i++ {
		nodes = append(nodes, &pageNode{
			sess: s,
			expr: fmt.Sprintf("(%s)[%d]", listExpr, i),
		})
	}
	return nodes, nil
}

func (s *Session) evalInt(ctx context.Context, expr string) (int, error) {
	var out int
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &out)); err != nil {
		return 0, fmt.Errorf("evaluate %s: %w", expr, err)
	}
	return out, nil
}

func (s *Session) evalString(ctx context.Context, expr string) (string, error) {
	var out string
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &out)); err != nil {
		return "", fmt.Errorf("evaluate %s: %w", expr, err)
	}
	return out, nil
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	browserCtx := s.browserCtx
	s.mu.Unlock()

	taskCtx := browserCtx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(browserCtx, timeout)
	}
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return err
	}
	return ctx.Err()
}

// forwardCancel propagates caller-context cancellation into the chromedp
// task context, which descends from the browser context rather than ctx.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// pageNode is an element handle expressed as a JS path. Scoped and
// shadow-root queries compose onto the path, which keeps the whole node API
// usable on elements ordinary selectors cannot reach.
type pageNode struct {
	sess *Session
	expr string
}

func (n *pageNode) Text(ctx context.Context) (string, error) {
	return n.sess.evalString(ctx,
		fmt.Sprintf("(() => { const el = %s; return el ? el.innerText : \"\"; })()", n.expr))
}

func (n *pageNode) Attr(ctx context.Context, name string) (string, error) {
	return n.sess.evalString(ctx,
		fmt.Sprintf("(() => { const el = %s; return el ? (el.getAttribute(%q) || \"\") : \"\"; })()", n.expr, name))
}

func (n *pageNode) Query(ctx context.Context, selector string) ([]scraper.Node, error) {
	return n.sess.nodesFromList(ctx,
		fmt.Sprintf("(() => { const el = %s; return el ? el.querySelectorAll(%q) : []; })()", n.expr, selector))
}

func (n *pageNode) QueryShadow(ctx context.Context, selector string) ([]scraper.Node, error) {
	return n.sess.nodesFromList(ctx,
		fmt.Sprintf("(() => { const el = %s; return el && el.shadowRoot ? el.shadowRoot.querySelectorAll(%q) : []; })()", n.expr, selector))
}
