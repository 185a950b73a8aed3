package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueURLRoutesByMagnitude(t *testing.T) {
	trackers := DefaultTrackers()

	require.Equal(t,
		"https://bugs.chromium.org/p/oss-fuzz/issues/detail?id=9999999",
		trackers.IssueURL(9_999_999))
	require.Equal(t,
		"https://issues.oss-fuzz.com/issues/10000000",
		trackers.IssueURL(10_000_000), "the threshold itself is a modern ID")
	require.Equal(t,
		"https://issues.oss-fuzz.com/issues/42001234",
		trackers.IssueURL(42_001_234))
}
