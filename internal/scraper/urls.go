package scraper

import "fmt"

// The project migrated trackers mid-history: issues filed on Monorail kept
// their small numeric IDs, while the replacement tracker assigns IDs from a
// much higher range.
const legacyIDThreshold = 10_000_000

const (
	legacyIssueURLTemplate = "https://bugs.chromium.org/p/oss-fuzz/issues/detail?id=%d"
	modernIssueURLTemplate = "https://issues.oss-fuzz.com/issues/%d"
)

// Trackers routes issue IDs to the backend that hosts them.
type Trackers struct {
	Threshold      int64
	LegacyTemplate string
	ModernTemplate string
}

// DefaultTrackers returns the production tracker routing.
func DefaultTrackers() Trackers {
	return Trackers{
		Threshold:      legacyIDThreshold,
		LegacyTemplate: legacyIssueURLTemplate,
		ModernTemplate: modernIssueURLTemplate,
	}
}

// IssueURL resolves the page URL for an issue ID by magnitude.
func (t Trackers) IssueURL(id int64) string {
	if id < t.Threshold {
		return fmt.Sprintf(t.LegacyTemplate, id)
	}
	return fmt.Sprintf(t.ModernTemplate, id)
}
