package scraper

import (
	"fmt"
	"regexp"
	"strings"
)

// Metadata-block vocabulary as rendered by the issue editor sidebar.
var metadataLabels = []string{
	"Reporter", "Type", "Priority", "Severity", "Status", "Assignee",
	"Verifier", "Collaborators", "CC", "Project", "Disclosure", "Reported",
	"Code Changes", "Pending Code Changes", "Staffing", "Found In",
	"Targeted To", "Verified In",
}

// Person-valued metadata fields rendered as hovercards.
var personLabels = map[string]bool{
	"Reporter":      true,
	"Assignee":      true,
	"Verifier":      true,
	"Collaborators": true,
	"CC":            true,
}

// Metadata fields carrying a plain calendar date.
var dateLabels = map[string]bool{
	"Disclosure": true,
	"Reported":   true,
}

// Description-block vocabulary emitted by the fuzzing infrastructure.
var descriptionLabels = []string{
	"Project", "Fuzzing Engine", "Fuzz Target", "Job Type", "Platform Id",
	"Crash Type", "Crash Address", "Crash State", "Sanitizer", "Regressed",
	"Reproducer Testcase", "Crash Revision", "Download", "Fixed", "Fuzzer",
	"Fuzzer binary", "Fuzz target binary", "Minimized Testcase",
	"Recommended Security Severity", "Unminimized Testcase", "Build log",
	"Build type",
}

// Description fields whose value is a link sometimes followed by prose; only
// the first whitespace token is kept when it looks like a URL.
var urlBearingLabels = map[string]bool{
	"Regressed":           true,
	"Fixed":               true,
	"Crash Revision":      true,
	"Build log":           true,
	"Reproducer Testcase": true,
	"Minimized Testcase":  true,
}

// LabelSet matches rendered text lines against a fixed label vocabulary.
type LabelSet struct {
	patterns []labelPattern
}

type labelPattern struct {
	key string
	re  *regexp.Regexp
}

// NewLabelSet compiles the vocabulary. A line matches a label when, after
// emphasis markup is stripped, it starts with the label optionally followed
// by a parenthetical annotation (file sizes and the like) and then a colon.
func NewLabelSet(labels []string) *LabelSet {
	set := &LabelSet{patterns: make([]labelPattern, 0, len(labels))}
	for _, label := range labels {
		re := regexp.MustCompile(fmt.Sprintf(`(?i)^%s(?:\s*\(.*\))?\s*:`, regexp.QuoteMeta(label)))
		set.patterns = append(set.patterns, labelPattern{key: label, re: re})
	}
	return set
}

// Match reports the canonical key and remainder value for line, or ok=false
// when no label in the vocabulary matches.
func (s *LabelSet) Match(line string) (key, value string, ok bool) {
	clean := StripEmphasis(line)
	for _, p := range s.patterns {
		loc := p.re.FindStringIndex(clean)
		if loc == nil {
			continue
		}
		return p.key, strings.TrimSpace(clean[loc[1]:]), true
	}
	return "", "", false
}

var emphasisReplacer = strings.NewReplacer("<b>", "", "</b>", "", "**", "")

// StripEmphasis removes the markup the tracker mixes into rendered text.
func StripEmphasis(line string) string {
	return emphasisReplacer.Replace(line)
}

// MetadataLabels returns the compiled metadata-block vocabulary.
func MetadataLabels() *LabelSet { return NewLabelSet(metadataLabels) }

// DescriptionLabels returns the compiled description-block vocabulary.
func DescriptionLabels() *LabelSet { return NewLabelSet(descriptionLabels) }
