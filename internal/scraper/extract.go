package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Selectors for the issue-detail layout. The tracker renders everything
// client-side, so each region needs its own presence wait.
const (
	titleSelector         = "h3.heading-m.ng-star-inserted"
	titleFallbackSelector = "issue-header h3"
	hotlistSelector       = "b-hotlist-chip-smart span.name a"
	reportedTimeSelector  = "b-formatted-date-time time"
	metadataSelector      = "edit-issue-metadata"
	metadataFieldSelector = "b-edit-field, b-multi-user-control, b-staffing-row"
	metadataValueSelector = ".bv2-metadata-field-value, .staffing-summaries, .no-value"
	eventListSelector     = "issue-event-list"
	eventSelector         = "div.bv2-event"
	commentSelector       = "b-plain-format-unquoted-section, b-markdown-format-presenter"
	revisionLinkSelector  = `a[href*="/revisions"]`
	eventTimeSelector     = "h4 b-formatted-date-time time"
	descriptionSelector   = "b-issue-description"
)

const (
	emptyFieldPlaceholder = "--"
	timestampLayout       = "2006-01-02 15:04"
	dateLayout            = "2006-01-02"
)

// Description lines emitted by tooling rather than a human; they end the
// current continuation run and are dropped.
var noiseSentinels = []string{"Issue filed automatically", "See "}

// Fields whose value, when it is a link, points at a revision-range sub-page.
var subPageFields = []struct {
	Key    string
	Prefix string
}{
	{Key: "Regressed", Prefix: "regressed"},
	{Key: "Fixed", Prefix: "fixed"},
	{Key: "Crash Revision", Prefix: "crash"},
}

// ExtractorConfig tunes the per-region waits of the extractor.
type ExtractorConfig struct {
	HotlistWait    time.Duration
	FieldWait      time.Duration
	TableWait      time.Duration
	SettleDelay    time.Duration
	SnapshotPrefix string
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.HotlistWait <= 0 {
		c.HotlistWait = 5 * time.Second
	}
	if c.FieldWait <= 0 {
		c.FieldWait = 10 * time.Second
	}
	if c.TableWait <= 0 {
		c.TableWait = 10 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	return c
}

// Extractor turns a loaded issue page into a Record.
type Extractor struct {
	session    Session
	nav        *Navigator
	snapshots  BlobStore
	descLabels *LabelSet
	metaVocab  map[string]bool
	cfg        ExtractorConfig
	logger     *zap.Logger
}

// NewExtractor builds an Extractor sharing the navigator's session.
// snapshots may be nil to disable raw HTML archiving.
func NewExtractor(session Session, nav *Navigator, snapshots BlobStore, cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	vocab := make(map[string]bool, len(metadataLabels))
	for _, label := range metadataLabels {
		vocab[label] = true
	}
	return &Extractor{
		session:    session,
		nav:        nav,
		snapshots:  snapshots,
		descLabels: DescriptionLabels(),
		metaVocab:  vocab,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// ExtractIssue loads the issue page and extracts every field it can find. A
// page that never loads yields an error record; only driver-level failures
// surface through Result.Err.
func (e *Extractor) ExtractIssue(ctx context.Context, issueID, url string) Result {
	outcome := e.nav.LoadIssue(ctx, url)
	if !outcome.OK {
		// An interrupted load is not a verdict on the page: the issue keeps
		// its remaining attempts on the next run.
		if err := ctx.Err(); err != nil {
			return Result{Err: err}
		}
		TotalErrorRecords.Inc()
		rec := NewRecord(issueID, url)
		rec.Error = true
		rec.Title = "Failed to load page"
		return Result{Record: rec}
	}
	e.nav.Sleep(ctx, e.cfg.SettleDelay)

	loc, err := e.session.Location(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("read location after load: %w", err)}
	}
	rec := NewRecord(canonicalIssueID(loc, issueID), loc)
	e.archiveSnapshot(ctx, rec.ID+".html")

	e.extractTitle(ctx, rec)
	e.extractHotlists(ctx, rec)
	e.extractReportedTime(ctx, rec)
	e.extractMetadata(ctx, rec)
	e.extractFixedDisclosure(ctx, rec)
	e.extractDescription(ctx, rec)
	e.scrapeSubPages(ctx, rec)

	TotalIssuesScraped.Inc()
	return Result{Record: rec}
}

// canonicalIssueID prefers the ID embedded in the final URL; the legacy
// tracker redirects old issue numbers to their migrated counterparts.
func canonicalIssueID(finalURL, fallback string) string {
	segment := finalURL[strings.LastIndex(finalURL, "/")+1:]
	if segment != "" && isDigits(segment) {
		return segment
	}
	return fallback
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func (e *Extractor) extractTitle(ctx context.Context, rec *Record) {
	for _, selector := range []string{titleSelector, titleFallbackSelector} {
		nodes, err := e.session.Query(ctx, selector)
		if err != nil || len(nodes) == 0 {
			continue
		}
		text, err := nodes[0].Text(ctx)
		if err == nil {
			rec.Title = strings.TrimSpace(text)
			return
		}
	}
	rec.Error = true
	e.logger.Warn("could not find title", zap.String("issue_id", rec.ID))
}

func (e *Extractor) extractHotlists(ctx context.Context, rec *Record) {
	nodes, err := e.queryAfterWait(ctx, hotlistSelector, e.cfg.HotlistWait)
	if err != nil || len(nodes) == 0 {
		return
	}
	var hotlists []string
	for _, node := range nodes {
		text, err := node.Text(ctx)
		if err == nil && text != "" {
			hotlists = append(hotlists, text)
		}
	}
	rec.Hotlists = hotlists
}

func (e *Extractor) extractReportedTime(ctx context.Context, rec *Record) {
	nodes, err := e.queryAfterWait(ctx, reportedTimeSelector, e.cfg.FieldWait)
	if err != nil || len(nodes) == 0 {
		return
	}
	raw, err := nodes[0].Attr(ctx, "datetime")
	if err != nil || raw == "" {
		return
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		rec.ReportedTime = ts.Format(timestampLayout)
	}
}

func (e *Extractor) extractMetadata(ctx context.Context, rec *Record) {
	containers, err := e.queryAfterWait(ctx, metadataSelector, e.cfg.FieldWait)
	if err != nil || len(containers) == 0 {
		e.logger.Warn("metadata container not found", zap.String("issue_id", rec.ID))
		return
	}
	fields, err := containers[0].Query(ctx, metadataFieldSelector)
	if err != nil {
		return
	}
	for _, field := range fields {
		e.extractMetadataField(ctx, rec, field)
	}
}

func (e *Extractor) extractMetadataField(ctx context.Context, rec *Record, field Node) {
	labels, err := field.Query(ctx, "label")
	if err != nil || len(labels) == 0 {
		return
	}
	raw, err := labels[0].Text(ctx)
	if err != nil {
		return
	}
	label := strings.TrimSpace(raw)
	if !e.metaVocab[label] {
		return
	}
	// The description block has its own Reported key; the sidebar date gets
	// a disambiguated name.
	outKey := label
	if label == "Reported" {
		outKey = "Metadata_Reported_Date"
	}
	if personLabels[label] {
		rec.Set(outKey, e.personFieldValue(ctx, field, label))
		return
	}
	values, err := field.Query(ctx, metadataValueSelector)
	if err != nil || len(values) == 0 {
		return
	}
	text, err := values[0].Text(ctx)
	if err != nil {
		return
	}
	rec.Set(outKey, scalarFieldValue(strings.TrimSpace(text), label))
}

func (e *Extractor) personFieldValue(ctx context.Context, field Node, label string) Value {
	cards, err := field.Query(ctx, "b-person-hovercard")
	if err != nil {
		return Null()
	}
	var people []string
	for _, card := range cards {
		text, err := card.Text(ctx)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(text)
		if name != "" && name != emptyFieldPlaceholder {
			people = append(people, name)
		}
	}
	switch {
	case len(people) == 0:
		return Null()
	case label == "CC" || label == "Collaborators":
		return ListValue(people)
	case len(people) == 1:
		return TextValue(people[0])
	default:
		return ListValue(people)
	}
}

func scalarFieldValue(text, label string) Value {
	if text == "" || text == emptyFieldPlaceholder {
		return Null()
	}
	if dateLabels[label] {
		if ts, err := time.Parse(dateLayout, text); err == nil {
			return TextValue(ts.Format(dateLayout))
		}
	}
	return TextValue(text)
}

// extractFixedDisclosure scans the event timeline newest-first for the
// comment that discloses the fixing revision range, stopping at the first
// match.
func (e *Extractor) extractFixedDisclosure(ctx context.Context, rec *Record) {
	lists, err := e.queryAfterWait(ctx, eventListSelector, e.cfg.FieldWait)
	if err != nil || len(lists) == 0 {
		return
	}
	events, err := lists[0].Query(ctx, eventSelector)
	if err != nil {
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		fixedURL, ok := e.fixedURLFromEvent(ctx, events[i])
		if !ok {
			continue
		}
		rec.Set("Fixed", TextValue(fixedURL))
		if ts := e.eventTimestamp(ctx, events[i]); ts != "" {
			rec.FixedTime = ts
		}
		e.logger.Debug("found fixed disclosure",
			zap.String("issue_id", rec.ID),
			zap.String("fixed", fixedURL),
		)
		return
	}
}

func (e *Extractor) fixedURLFromEvent(ctx context.Context, event Node) (string, bool) {
	sections, err := event.Query(ctx, commentSelector)
	if err != nil || len(sections) == 0 {
		return "", false
	}
	text, err := sections[0].Text(ctx)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Fixed: http") && strings.Contains(line, "/revisions") {
			if _, url, ok := strings.Cut(line, " "); ok {
				return url, true
			}
		}
	}
	if strings.Contains(text, "is verified as fixed in") {
		links, err := event.Query(ctx, revisionLinkSelector)
		if err == nil && len(links) > 0 {
			if href, err := links[0].Attr(ctx, "href"); err == nil && href != "" {
				return href, true
			}
		}
	}
	return "", false
}

func (e *Extractor) eventTimestamp(ctx context.Context, event Node) string {
	times, err := event.Query(ctx, eventTimeSelector)
	if err != nil || len(times) == 0 {
		return ""
	}
	raw, err := times[0].Attr(ctx, "datetime")
	if err != nil || raw == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return ""
	}
	return ts.Format(timestampLayout)
}

// extractDescription walks the free-text description line by line. A label
// match starts a field; unlabeled lines continue the previous one until a
// blank line or a noise sentinel resets the cursor.
func (e *Extractor) extractDescription(ctx context.Context, rec *Record) {
	containers, err := e.queryAfterWait(ctx, descriptionSelector, e.cfg.FieldWait)
	if err != nil || len(containers) == 0 {
		e.logger.Warn("description container not found, skipping description parsing",
			zap.String("issue_id", rec.ID))
		return
	}
	text, err := containers[0].Text(ctx)
	if err != nil {
		return
	}
	var cursor string
	haveCursor := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(StripEmphasis(line))
		if line == "" {
			haveCursor = false
			continue
		}
		if key, value, ok := e.descLabels.Match(line); ok {
			cursor, haveCursor = key, true
			if urlBearingLabels[key] && strings.Contains(value, "http") {
				value = strings.Fields(value)[0]
			}
			rec.Set(key, TextValue(value))
			continue
		}
		if !haveCursor {
			continue
		}
		if isNoiseLine(line) {
			haveCursor = false
			continue
		}
		rec.AppendContinuation(cursor, line)
	}
}

func isNoiseLine(line string) bool {
	for _, sentinel := range noiseSentinels {
		if strings.Contains(line, sentinel) {
			return true
		}
	}
	return false
}

// scrapeSubPages follows each URL-valued revision field and always returns
// the session to the issue page, whatever the sub-page did to it.
func (e *Extractor) scrapeSubPages(ctx context.Context, rec *Record) {
	mainURL := rec.URL
	for _, field := range subPageFields {
		value, ok := rec.Get(field.Key)
		if !ok || value.Kind != KindText || !strings.HasPrefix(value.Text, "http") {
			continue
		}
		e.scrapeOneSubPage(ctx, rec, value.Text, field.Prefix, mainURL)
	}
}

func (e *Extractor) scrapeOneSubPage(ctx context.Context, rec *Record, url, prefix, mainURL string) {
	defer e.returnToIssue(ctx, mainURL)
	data := e.ExtractRevisions(ctx, url, rec.ID, prefix, mainURL)
	if data != nil {
		data.Apply(rec, prefix)
	}
}

func (e *Extractor) returnToIssue(ctx context.Context, mainURL string) {
	loc, err := e.session.Location(ctx)
	if err == nil && loc == mainURL {
		return
	}
	if err := e.session.Navigate(ctx, mainURL); err != nil {
		e.logger.Warn("return navigation failed", zap.String("url", mainURL), zap.Error(err))
		return
	}
	returned := e.nav.WaitFor(ctx, e.nav.cfg.SubPageTimeout, func(ctx context.Context) bool {
		loc, err := e.session.Location(ctx)
		return err == nil && loc == mainURL
	})
	if !returned {
		e.logger.Warn("timed out returning to issue page, forcing navigation",
			zap.String("url", mainURL))
		if err := e.session.Navigate(ctx, mainURL); err != nil {
			e.logger.Warn("forced return navigation failed", zap.Error(err))
		}
	}
}

func (e *Extractor) queryAfterWait(ctx context.Context, selector string, timeout time.Duration) ([]Node, error) {
	e.nav.WaitFor(ctx, timeout, func(ctx context.Context) bool {
		nodes, err := e.session.Query(ctx, selector)
		return err == nil && len(nodes) > 0
	})
	return e.session.Query(ctx, selector)
}

func (e *Extractor) archiveSnapshot(ctx context.Context, name string) {
	if e.snapshots == nil {
		return
	}
	html, err := e.session.HTML(ctx)
	if err != nil {
		e.logger.Debug("snapshot capture failed", zap.Error(err))
		return
	}
	path := name
	if e.cfg.SnapshotPrefix != "" {
		path = e.cfg.SnapshotPrefix + "/" + name
	}
	if _, err := e.snapshots.PutObject(ctx, path, "text/html; charset=utf-8", []byte(html)); err != nil {
		e.logger.Warn("snapshot archive failed", zap.String("path", path), zap.Error(err))
	}
}
