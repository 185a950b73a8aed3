package scraper

import (
	"context"
	"fmt"
	"time"
)

// fakeNode is an in-memory element for driving the extractor without a
// browser. Child lookups are exact selector matches.
type fakeNode struct {
	text   string
	attrs  map[string]string
	kids   map[string][]*fakeNode
	shadow map[string][]*fakeNode
}

func (n *fakeNode) Text(context.Context) (string, error) { return n.text, nil }

func (n *fakeNode) Attr(_ context.Context, name string) (string, error) {
	return n.attrs[name], nil
}

func (n *fakeNode) Query(_ context.Context, selector string) ([]Node, error) {
	return asNodes(n.kids[selector]), nil
}

func (n *fakeNode) QueryShadow(_ context.Context, selector string) ([]Node, error) {
	return asNodes(n.shadow[selector]), nil
}

func asNodes(nodes []*fakeNode) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

// fakePage is the rendered content served for one URL.
type fakePage struct {
	title     string
	html      string
	selectors map[string][]*fakeNode
}

// fakeSession serves fakePages keyed by navigated URL. Per-URL page queues
// let a test present different content on successive visits (throttle
// banners, slow-loading tables).
type fakeSession struct {
	pages       map[string]*fakePage
	pageQueues  map[string][]*fakePage
	redirects   map[string]string
	navErrs     map[string]error
	locErrs     map[string]error
	current     *fakePage
	location    string
	navigations []string
	restarts    int
	closed      bool
	onNavigate  func(url string)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages:      make(map[string]*fakePage),
		pageQueues: make(map[string][]*fakePage),
		redirects:  make(map[string]string),
		navErrs:    make(map[string]error),
		locErrs:    make(map[string]error),
	}
}

func (s *fakeSession) serve(url string, page *fakePage) { s.pages[url] = page }

// enqueue arranges successive visits to url to see each page in order; the
// last page keeps being served once the queue drains.
func (s *fakeSession) enqueue(url string, pages ...*fakePage) {
	s.pageQueues[url] = append(s.pageQueues[url], pages...)
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	if s.onNavigate != nil {
		s.onNavigate(url)
	}
	s.navigations = append(s.navigations, url)
	if err := s.navErrs[url]; err != nil {
		return err
	}
	if queue := s.pageQueues[url]; len(queue) > 0 {
		s.current = queue[0]
		if len(queue) > 1 {
			s.pageQueues[url] = queue[1:]
		}
	} else if page, ok := s.pages[url]; ok {
		s.current = page
	} else {
		s.current = &fakePage{}
	}
	if final, ok := s.redirects[url]; ok {
		s.location = final
	} else {
		s.location = url
	}
	return nil
}

func (s *fakeSession) Location(context.Context) (string, error) {
	if err := s.locErrs[s.location]; err != nil {
		return "", err
	}
	return s.location, nil
}

func (s *fakeSession) Title(context.Context) (string, error) {
	if s.current == nil {
		return "", fmt.Errorf("no page loaded")
	}
	return s.current.title, nil
}

func (s *fakeSession) Query(_ context.Context, selector string) ([]Node, error) {
	if s.current == nil {
		return nil, nil
	}
	return asNodes(s.current.selectors[selector]), nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	if s.current == nil {
		return "", nil
	}
	return s.current.html, nil
}

func (s *fakeSession) Restart(context.Context) error {
	s.restarts++
	return nil
}

func (s *fakeSession) Close() { s.closed = true }

// textNode is shorthand for a leaf element carrying only text.
func textNode(text string) *fakeNode { return &fakeNode{text: text} }

// fastNavConfig keeps retry loops snappy in tests.
func fastNavConfig() NavigatorConfig {
	return NavigatorConfig{
		IssueAttempts:    5,
		SubPageAttempts:  3,
		IssueTimeout:     40 * time.Millisecond,
		SubPageTimeout:   40 * time.Millisecond,
		ThrottleCooldown: time.Millisecond,
		PollInterval:     5 * time.Millisecond,
	}
}

// fastExtractConfig keeps region waits snappy in tests.
func fastExtractConfig() ExtractorConfig {
	return ExtractorConfig{
		HotlistWait: 20 * time.Millisecond,
		FieldWait:   20 * time.Millisecond,
		TableWait:   20 * time.Millisecond,
		SettleDelay: time.Millisecond,
	}
}
