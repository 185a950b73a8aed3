package scraper

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Revision sub-page selectors. The revision table lives inside the
// revisions-info element's shadow root.
const (
	revisionHostSelector = "revisions-info"
	revisionRowSelector  = "table tr.body"
)

const revisionFailureBanner = "Failed to get component revisions."

// ExtractRevisions navigates to a revision-range sub-page and parses its
// component/revision table. It returns nil when the page cannot be reached
// or explicitly reports failure; the caller restores the session to the
// issue page regardless.
func (e *Extractor) ExtractRevisions(ctx context.Context, url, issueID, prefix, fromURL string) *RevisionData {
	e.logger.Debug("scraping sub-page", zap.String("url", url), zap.String("issue_id", issueID))

	outcome := e.nav.LoadSubPage(ctx, url, fromURL)
	if !outcome.OK {
		e.logger.Warn("failed to navigate to sub-page, aborting scrape", zap.String("url", url))
		return nil
	}

	if title, err := e.session.Title(ctx); err == nil && strings.Contains(title, "Error") {
		tables, err := e.session.Query(ctx, "table")
		if err != nil || len(tables) == 0 {
			e.logger.Warn("error page with no table, skipping", zap.String("url", url))
			return nil
		}
	}
	if html, err := e.session.HTML(ctx); err == nil && strings.Contains(html, revisionFailureBanner) {
		e.logger.Warn("revision lookup failed upstream, skipping", zap.String("url", url))
		return nil
	}

	data := &RevisionData{
		Components: []string{},
		Revisions:  [][]string{},
		Buildtime:  buildtimeFromURL(url),
	}

	hosts := e.waitForRevisionRows(ctx)
	if hosts == nil {
		e.logger.Warn("revision table not found or did not load content", zap.String("url", url))
		e.archiveSnapshot(ctx, issueID+"_"+prefix+"_error.html")
		return data
	}
	e.nav.Sleep(ctx, e.cfg.SettleDelay)
	e.archiveSnapshot(ctx, issueID+"_"+prefix+".html")

	rows, err := hosts[0].QueryShadow(ctx, revisionRowSelector)
	if err != nil {
		e.logger.Warn("revision row query failed", zap.String("url", url), zap.Error(err))
		return data
	}
	for _, row := range rows {
		component, revText, ok := e.revisionRowCells(ctx, row)
		if !ok {
			continue
		}
		data.Components = append(data.Components, component)
		data.Revisions = append(data.Revisions, SplitRevisionRange(revText))
	}
	TotalSubPagesScraped.Inc()
	return data
}

// waitForRevisionRows waits for the shadow host and then for its table to
// populate with at least one data row. Returns nil when either wait expires.
func (e *Extractor) waitForRevisionRows(ctx context.Context) []Node {
	hosts, err := e.queryAfterWait(ctx, revisionHostSelector, e.cfg.TableWait)
	if err != nil || len(hosts) == 0 {
		return nil
	}
	populated := e.nav.WaitFor(ctx, e.cfg.TableWait, func(ctx context.Context) bool {
		rows, err := hosts[0].QueryShadow(ctx, revisionRowSelector)
		return err == nil && len(rows) > 0
	})
	if !populated {
		return nil
	}
	return hosts
}

func (e *Extractor) revisionRowCells(ctx context.Context, row Node) (component, revText string, ok bool) {
	cells, err := row.Query(ctx, "td")
	if err != nil || len(cells) < 2 {
		return "", "", false
	}
	compText, err := cells[0].Text(ctx)
	if err != nil {
		return "", "", false
	}
	rangeText, err := cells[1].Text(ctx)
	if err != nil {
		return "", "", false
	}
	component = strings.TrimSpace(compText)
	revText = strings.TrimSpace(rangeText)
	if component == "" || revText == "" {
		return "", "", false
	}
	return component, revText, true
}

// buildtimeFromURL splits the trailing query segment of a revisions URL on
// colons; these URLs end in a "<start>:<end>" build timestamp pair.
func buildtimeFromURL(url string) []string {
	idx := strings.LastIndex(url, "=")
	if idx < 0 {
		return nil
	}
	return strings.Split(url[idx+1:], ":")
}
