// Package scraper implements the issue-report extraction pipeline: target
// resolution, navigation, field extraction, and batch persistence.
package scraper
